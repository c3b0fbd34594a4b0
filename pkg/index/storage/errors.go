package storage

import "fmt"

func errDocumentNotFound(documentID string) error {
	return fmt.Errorf("document %q not found", documentID)
}
