package search

import (
	"context"
	"fmt"
)

type Kind string

const (
	KindNews Kind = "news"
	KindBlog Kind = "blog"
	KindWeb  Kind = "web"
)

// Kinds lists the supported kinds in a fixed order.
var Kinds = []Kind{KindNews, KindBlog, KindWeb}

func ParseKind(value string) (Kind, error) {
	for _, kind := range Kinds {
		if string(kind) == value {
			return kind, nil
		}
	}
	return "", fmt.Errorf("unsupported search kind %q", value)
}

// Provider turns a keyword into a plain-text snippet list. Zero results yield
// an empty string, not an error.
type Provider interface {
	Search(ctx context.Context, kind Kind, query string) (string, error)
}
