package retriever

import "errors"

var (
	ErrChunksNotFound = errors.New("chunks not found")
	ErrAnchorNotFound = errors.New("anchor chunk not found")
)
