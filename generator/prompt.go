package generator

import (
	"fmt"
	"strings"
)

// Prompt is the message set sent to an LLM. A zero Temperature leaves the
// model default.
type Prompt struct {
	System      string
	User        string
	History     []Message
	Temperature float64
}

// Message is one prior turn.
type Message struct {
	Role    string
	Content string
}

// Instructions suggested for a selection.
var SelectionInstructions = []string{"make funnier", "expand", "fix grammar", "make formal", "summarize"}

// DocumentOp is one entry of the fixed whole-document menu.
type DocumentOp string

const (
	OpShorten    DocumentOp = "shorten"
	OpLengthen   DocumentOp = "lengthen"
	OpSimplify   DocumentOp = "simplify"
	OpFixGrammar DocumentOp = "fix_grammar"
)

var documentOps = map[DocumentOp]string{
	OpShorten:    "Shorten the text while keeping its key points",
	OpLengthen:   "Lengthen the text with more detail and examples",
	OpSimplify:   "Simplify the reading level so a general reader can follow it",
	OpFixGrammar: "Fix grammar, spelling and punctuation without changing the meaning",
}

// DocumentOps lists the whole-document operations in menu order.
func DocumentOps() []DocumentOp {
	return []DocumentOp{OpShorten, OpLengthen, OpSimplify, OpFixGrammar}
}

// Instruction returns the rewrite instruction for op.
func (op DocumentOp) Instruction() (string, bool) {
	s, ok := documentOps[op]
	return s, ok
}

const structureRule = "Preserve the original structural formatting: keep headings, lists, " +
	"emphasis and paragraph breaks, change only the prose. Reply with markdown only, no explanations."

// BuildRewriteInstruction wraps a user instruction so the reply keeps the
// document structure.
func BuildRewriteInstruction(instruction string) string {
	instruction = strings.TrimSpace(instruction)
	return fmt.Sprintf("%s. %s", strings.TrimRight(instruction, "."), structureRule)
}

// BuildGenerationPrompt builds the prompt for a first draft.
func BuildGenerationPrompt(req Request) Prompt {
	var sb strings.Builder
	sb.WriteString("You are an expert content creator and social media manager.\n")
	sb.WriteString("Guidelines:\n")
	if req.Tone != "" {
		sb.WriteString(fmt.Sprintf("- Tone: %s.\n", req.Tone))
	}
	if req.TargetAudience != "" {
		sb.WriteString(fmt.Sprintf("- Target audience: %s.\n", req.TargetAudience))
	}
	if req.Language != "" {
		sb.WriteString(fmt.Sprintf("- Write in %s.\n", req.Language))
	}
	sb.WriteString("- If writing a tweet, keep it under 280 characters and use hashtags.\n")
	sb.WriteString("- If writing a LinkedIn post, use professional formatting.\n")
	sb.WriteString("- Start with a level one heading as the title.\n")

	contentType := req.ContentType
	if contentType == "" {
		contentType = "blog post"
	}
	return Prompt{
		System:      "Reply with markdown only. Do not add commentary before or after the content.",
		User:        fmt.Sprintf("%sWrite a %s about the topic: %q.", sb.String(), contentType, req.Topic),
		Temperature: 0.7,
	}
}

// BuildRewritePrompt builds the prompt for a regenerate call.
func BuildRewritePrompt(req RewriteRequest) Prompt {
	system := "You are a professional editor. Apply the instruction to the text with the smallest change that " +
		"satisfies it. " + structureRule
	return Prompt{
		System:      system,
		User:        fmt.Sprintf("Instruction: %s\n\nText:\n%s", req.Instruction, req.SelectedText),
		Temperature: 0.4,
	}
}
