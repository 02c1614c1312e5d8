package protocol

import (
	"fmt"

	"github.com/danmuck/relaychat/internal/protocol/schema"
)

// Built-in packet kinds.
const (
	KindMessage = "Message"
	KindKick    = "Kick"
)

const (
	FieldContent = "content"
	FieldAuthor  = "author"
	FieldReason  = "reason"
)

var messageRequirements = []schema.Requirement{
	{Field: FieldContent, Type: schema.TypeString, Tag: "required"},
	{Field: FieldAuthor, Type: schema.TypeString, Optional: true},
}

var kickRequirements = []schema.Requirement{
	{Field: FieldReason, Type: schema.TypeString, Tag: "required"},
}

func registerBuiltins(c *Codec) {
	builtins := []struct {
		kind string
		spec KindSpec
	}{
		{KindMessage, KindSpec{
			Description: "Text exchanged between the server and clients.",
			Fields:      schema.Fields(messageRequirements),
			Verify:      schema.Rules(messageRequirements...),
		}},
		{KindKick, KindSpec{
			Description: "Server notice that the connection is being dropped.",
			Fields:      schema.Fields(kickRequirements),
			Verify:      schema.Rules(kickRequirements...),
		}},
	}
	for _, b := range builtins {
		if err := c.Register(b.kind, b.spec); err != nil {
			panic(fmt.Sprintf("protocol: register builtin %s: %v", b.kind, err))
		}
	}
}

// NewMessage builds a Message packet.
func NewMessage(content string) Packet {
	return NewPacket(KindMessage, map[string]any{FieldContent: content})
}

// NewChatMessage builds a Message packet attributed to author.
func NewChatMessage(author, content string) Packet {
	return NewPacket(KindMessage, map[string]any{FieldContent: content, FieldAuthor: author})
}

// NewKick builds a Kick packet.
func NewKick(reason string) Packet {
	return NewPacket(KindKick, map[string]any{FieldReason: reason})
}
