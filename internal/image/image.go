// Package image derives the identity of published container images from the
// triggering event: branch builds are tagged with the short commit hash, tag
// builds with the semantic version carried by the git tag.
package image

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/legwork-ci/legwork/internal/trigger"
)

const shortHashLen = 7

var (
	hexPattern    = regexp.MustCompile(`^[0-9a-f]+$`)
	semverPattern = regexp.MustCompile(`^v?\d+\.\d+\.\d+(?:-[0-9A-Za-z][0-9A-Za-z.-]*)?(?:\+[0-9A-Za-z][0-9A-Za-z.-]*)?$`)
)

// ShortHash truncates a full commit SHA to the length git uses for
// abbreviated hashes.
func ShortHash(commit string) (string, error) {
	trimmed := strings.ToLower(strings.TrimSpace(commit))
	if len(trimmed) < shortHashLen {
		return "", fmt.Errorf("image: commit %q is shorter than %d characters", commit, shortHashLen)
	}
	if !hexPattern.MatchString(trimmed) {
		return "", fmt.Errorf("image: commit %q is not a hex SHA", commit)
	}
	return trimmed[:shortHashLen], nil
}

// IsSemverTag reports whether a git tag names a semantic version, with an
// optional leading v.
func IsSemverTag(tag string) bool {
	return semverPattern.MatchString(strings.TrimSpace(tag))
}

// TagFor computes the image tag for an event. Push events yield the short
// commit hash; tag events publish the git tag verbatim and require it to be
// a semantic version.
func TagFor(evt trigger.Event) (string, error) {
	switch evt.Kind {
	case trigger.KindPush:
		return ShortHash(evt.Commit)
	case trigger.KindTag:
		tag := strings.TrimSpace(evt.Tag)
		if !IsSemverTag(tag) {
			return "", fmt.Errorf("image: tag %q is not a semantic version", evt.Tag)
		}
		return tag, nil
	default:
		return "", fmt.Errorf("image: unsupported event kind %q", evt.Kind)
	}
}

// Ref joins an image name and tag into the reference handed to the container
// toolchain.
func Ref(name, tag string) (string, error) {
	name = strings.TrimSpace(name)
	tag = strings.TrimSpace(tag)
	if name == "" {
		return "", fmt.Errorf("image: name is required")
	}
	if tag == "" {
		return "", fmt.Errorf("image: tag is required")
	}
	return name + ":" + tag, nil
}

// RefFor computes the full publishable reference for an event.
func RefFor(name string, evt trigger.Event) (string, error) {
	tag, err := TagFor(evt)
	if err != nil {
		return "", err
	}
	return Ref(name, tag)
}
