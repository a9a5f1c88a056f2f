package classifier

import (
	_ "embed"
	"fmt"
	"os"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/policy-monitor/internal/taxonomy"
)

// DocumentPlaceholder marks where the document text goes in a user prompt
// template.
const DocumentPlaceholder = "{document_text}"

//go:embed prompts/system.txt
var defaultSystem string

//go:embed prompts/user.txt
var defaultUser string

// Prompt renders the system and user prompts of a classifier call.
type Prompt struct {
	system string
	user   string
}

// DefaultPrompt returns the embedded prompts.
func DefaultPrompt() *Prompt {
	return &Prompt{system: defaultSystem, user: defaultUser}
}

// LoadPrompt reads a user prompt template from path. An empty path returns
// DefaultPrompt. The system prompt is always the embedded one.
func LoadPrompt(path string) (*Prompt, error) {
	if path == "" {
		return DefaultPrompt(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "classifier: read prompt %s", path)
	}
	return NewPrompt(string(data))
}

// NewPrompt uses userTemplate, which must contain {document_text}.
func NewPrompt(userTemplate string) (*Prompt, error) {
	if !strings.Contains(userTemplate, DocumentPlaceholder) {
		return nil, eris.Errorf("classifier: prompt template lacks %s", DocumentPlaceholder)
	}
	return &Prompt{system: defaultSystem, user: userTemplate}, nil
}

// System renders the system prompt for tax.
func (p *Prompt) System(tax *taxonomy.Taxonomy) string {
	keys := tax.Keys()
	scores := make([]string, len(keys))
	for i, k := range keys {
		scores[i] = fmt.Sprintf("%q: <0-10>", k)
	}
	return strings.NewReplacer(
		"{task_list}", tax.Render(),
		"{task_keys}", strings.Join(keys, ", "),
		"{task_scores}", strings.Join(scores, ", "),
	).Replace(p.system)
}

// User renders the user prompt for one document.
func (p *Prompt) User(text string) string {
	return strings.Replace(p.user, DocumentPlaceholder, text, 1)
}
