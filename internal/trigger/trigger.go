package trigger

import (
	"fmt"
	"strings"
)

// Kind identifies the flavor of VCS event that started a run.
type Kind string

const (
	// KindPush is a commit pushed to a branch.
	KindPush Kind = "push"
	// KindTag is an annotated tag pushed to the repository.
	KindTag Kind = "tag"
)

// Event is the trigger a run is evaluated against. Exactly one of Branch or
// Tag is set, depending on Kind; Commit is always the full SHA being built.
type Event struct {
	Kind   Kind
	Branch string
	Tag    string
	Commit string
}

// NewPush builds a branch-push event.
func NewPush(branch, commit string) (Event, error) {
	evt := Event{Kind: KindPush, Branch: strings.TrimSpace(branch), Commit: strings.TrimSpace(commit)}
	if err := evt.Validate(); err != nil {
		return Event{}, err
	}
	return evt, nil
}

// NewTag builds a tag-push event.
func NewTag(tag, commit string) (Event, error) {
	evt := Event{Kind: KindTag, Tag: strings.TrimSpace(tag), Commit: strings.TrimSpace(commit)}
	if err := evt.Validate(); err != nil {
		return Event{}, err
	}
	return evt, nil
}

// Validate ensures the event carries the fields its kind requires.
func (e Event) Validate() error {
	if e.Commit == "" {
		return fmt.Errorf("trigger: commit is required")
	}
	switch e.Kind {
	case KindPush:
		if e.Branch == "" {
			return fmt.Errorf("trigger: push event requires a branch")
		}
		if e.Tag != "" {
			return fmt.Errorf("trigger: push event must not carry a tag")
		}
	case KindTag:
		if e.Tag == "" {
			return fmt.Errorf("trigger: tag event requires a tag")
		}
		if e.Branch != "" {
			return fmt.Errorf("trigger: tag event must not carry a branch")
		}
	default:
		return fmt.Errorf("trigger: unknown event kind %q", e.Kind)
	}
	return nil
}

// Describe renders a one-line summary for logs and run records.
func (e Event) Describe() string {
	switch e.Kind {
	case KindTag:
		return fmt.Sprintf("tag %s @ %s", e.Tag, shorten(e.Commit))
	default:
		return fmt.Sprintf("push %s @ %s", e.Branch, shorten(e.Commit))
	}
}

func shorten(commit string) string {
	if len(commit) > 7 {
		return commit[:7]
	}
	return commit
}

// Condition gates a leg or stage on the triggering event. The zero value
// matches every event. Setting both Branch and Tags is rejected.
type Condition struct {
	Branch string `json:"branch,omitempty" yaml:"branch,omitempty"`
	Tags   bool   `json:"tags,omitempty" yaml:"tags,omitempty"`
}

// IsZero reports whether the condition matches unconditionally.
func (c Condition) IsZero() bool {
	return c.Branch == "" && !c.Tags
}

// Validate ensures the condition is one of the supported forms.
func (c Condition) Validate() error {
	if c.Branch != "" && c.Tags {
		return fmt.Errorf("trigger: condition cannot require both a branch and tags")
	}
	return nil
}

// Matches reports whether the event satisfies the condition.
func (c Condition) Matches(evt Event) bool {
	if c.IsZero() {
		return true
	}
	if c.Tags {
		return evt.Kind == KindTag
	}
	return evt.Kind == KindPush && evt.Branch == c.Branch
}

// Describe renders the condition for validation output.
func (c Condition) Describe() string {
	switch {
	case c.Tags:
		return "tags only"
	case c.Branch != "":
		return fmt.Sprintf("branch %s only", c.Branch)
	default:
		return "always"
	}
}
