// Copyright (c) 2024 Telar Social
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package models

import (
	"fmt"
	"strings"
)

// Kind is a governed record kind. Rules and error codes are keyed by it.
type Kind int

const (
	KindEntity Kind = iota + 1
	KindList
	KindRelation
	KindEntityReaction
	KindListReaction
)

// Kinds lists every governed kind.
var Kinds = []Kind{KindEntity, KindList, KindRelation, KindEntityReaction, KindListReaction}

var kindNames = map[Kind]string{
	KindEntity:         "entity",
	KindList:           "list",
	KindRelation:       "relation",
	KindEntityReaction: "entity-reaction",
	KindListReaction:   "list-reaction",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// IsValid reports whether k is a governed kind.
func (k Kind) IsValid() bool {
	_, ok := kindNames[k]
	return ok
}

// CodePrefix is the prefix of error codes, e.g. ENTITY-REACTION.
func (k Kind) CodePrefix() string {
	return strings.ToUpper(k.String())
}

// EnvPrefix is the prefix of the kind's configuration keys, e.g. ENTITY_REACTION.
func (k Kind) EnvPrefix() string {
	return strings.ReplaceAll(k.CodePrefix(), "-", "_")
}

// ParseKind accepts the kind name in any case, with '-' or '_'.
func ParseKind(s string) (Kind, error) {
	normalized := strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), "_", "-")
	for kind, name := range kindNames {
		if name == normalized {
			return kind, nil
		}
	}
	return 0, fmt.Errorf("unknown record kind %q", s)
}
