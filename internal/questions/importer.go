package questions

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"slices"
	"sync"

	"github.com/google/uuid"
	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/abhisek/studysync/internal/remote"
	"github.com/abhisek/studysync/internal/study"
)

// bankSchema describes a question bank file.
var bankSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"questions": map[string]any{
			"type":     "array",
			"minItems": 1,
			"items": map[string]any{
				"type": "object",
				"properties": map[string]any{
					"id":        map[string]any{"type": "string", "minLength": 1},
					"part_type": map[string]any{"type": "string", "enum": []any{"part5", "part6", "part7"}},
					"content":   map[string]any{"type": "string", "minLength": 1},
					"options": map[string]any{
						"type":     "array",
						"minItems": 2,
						"items":    map[string]any{"type": "string", "minLength": 1},
					},
					"correct_answer": map[string]any{"type": "string", "minLength": 1},
					"explanation":    map[string]any{"type": "string"},
					"difficulty":     map[string]any{"type": "string", "enum": []any{"easy", "medium", "hard"}},
					"is_active":      map[string]any{"type": "boolean"},
				},
				"required":             []any{"part_type", "content", "options", "correct_answer", "difficulty"},
				"additionalProperties": false,
			},
		},
	},
	"required": []any{"questions"},
}

var (
	compileOnce sync.Once
	compiled    *jsonschema.Schema
	compileErr  error
)

// bankFile is the decoded form of a question bank file.
type bankFile struct {
	Questions []struct {
		ID            string   `json:"id"`
		PartType      string   `json:"part_type"`
		Content       string   `json:"content"`
		Options       []string `json:"options"`
		CorrectAnswer string   `json:"correct_answer"`
		Explanation   string   `json:"explanation"`
		Difficulty    string   `json:"difficulty"`
		IsActive      *bool    `json:"is_active"`
	} `json:"questions"`
}

// ParseBank reads and validates a question bank. Questions without an id get
// a fresh one and is_active defaults to true.
func ParseBank(r io.Reader) ([]study.Question, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read question bank: %w", err)
	}

	var parsed any
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, &study.ValidationError{Field: "questions", Reason: fmt.Sprintf("invalid JSON: %v", err)}
	}

	schema, err := bankValidator()
	if err != nil {
		return nil, err
	}
	if err := schema.Validate(parsed); err != nil {
		return nil, &study.ValidationError{Field: "questions", Reason: err.Error()}
	}

	var bank bankFile
	if err := json.Unmarshal(raw, &bank); err != nil {
		return nil, fmt.Errorf("decode question bank: %w", err)
	}

	out := make([]study.Question, 0, len(bank.Questions))
	seen := make(map[string]bool, len(bank.Questions))
	for i, q := range bank.Questions {
		if !slices.Contains(q.Options, q.CorrectAnswer) {
			return nil, &study.ValidationError{
				Field:  fmt.Sprintf("questions[%d].correct_answer", i),
				Reason: fmt.Sprintf("%q is not one of the options", q.CorrectAnswer),
			}
		}
		id := q.ID
		if id == "" {
			id = uuid.New().String()
		}
		if seen[id] {
			return nil, &study.ValidationError{Field: fmt.Sprintf("questions[%d].id", i), Reason: fmt.Sprintf("duplicate id %q", id)}
		}
		seen[id] = true

		active := true
		if q.IsActive != nil {
			active = *q.IsActive
		}
		out = append(out, study.Question{
			ID:            id,
			PartType:      study.PartType(q.PartType),
			Content:       q.Content,
			Options:       q.Options,
			CorrectAnswer: q.CorrectAnswer,
			Explanation:   q.Explanation,
			Difficulty:    study.Difficulty(q.Difficulty),
			IsActive:      active,
		})
	}
	return out, nil
}

// Import parses a question bank and writes it to the remote store.
func Import(ctx context.Context, w remote.QuestionWriter, r io.Reader) (int, error) {
	qs, err := ParseBank(r)
	if err != nil {
		return 0, err
	}
	n, err := w.UpsertQuestions(ctx, qs)
	if err != nil {
		return n, fmt.Errorf("import questions: %w", err)
	}
	return n, nil
}

func bankValidator() (*jsonschema.Schema, error) {
	compileOnce.Do(func() {
		// The compiler expects a parsed JSON value, not Go literals.
		defBytes, err := json.Marshal(bankSchema)
		if err != nil {
			compileErr = fmt.Errorf("marshal bank schema: %w", err)
			return
		}
		var def any
		if err := json.Unmarshal(defBytes, &def); err != nil {
			compileErr = fmt.Errorf("parse bank schema: %w", err)
			return
		}

		c := jsonschema.NewCompiler()
		const url = "schema://question-bank.json"
		if err := c.AddResource(url, def); err != nil {
			compileErr = fmt.Errorf("add resource: %w", err)
			return
		}
		compiled, compileErr = c.Compile(url)
	})
	return compiled, compileErr
}
