package models

import (
	"fmt"
	"strings"

	"github.com/dmitrijs2005/idkeeper/internal/common"
)

// Classification is the sensitivity level of a data category. Levels are
// ordered: public < internal < confidential < restricted.
type Classification string

const (
	ClassificationPublic       Classification = "public"
	ClassificationInternal     Classification = "internal"
	ClassificationConfidential Classification = "confidential"
	ClassificationRestricted   Classification = "restricted"
)

var classificationRank = map[Classification]int{
	ClassificationPublic:       0,
	ClassificationInternal:     1,
	ClassificationConfidential: 2,
	ClassificationRestricted:   3,
}

// Rank returns the position of c in the ordering, or -1 if c is unknown.
func (c Classification) Rank() int {
	if r, ok := classificationRank[c]; ok {
		return r
	}
	return -1
}

// AtLeast reports whether c is as sensitive as other or more.
func (c Classification) AtLeast(other Classification) bool {
	return c.Rank() >= other.Rank()
}

func ParseClassification(s string) (Classification, error) {
	c := Classification(strings.ToLower(strings.TrimSpace(s)))
	if c.Rank() < 0 {
		return "", common.NewValidationError(fmt.Sprintf("unknown classification %q", s))
	}
	return c, nil
}
