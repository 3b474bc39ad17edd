package repository

import (
	"context"
	"fmt"
	"os"

	"github.com/google/uuid"
)

// LocalUploader stages files straight off the shared media mount. The
// repository only needs a stable id per staged file; content stays on the
// mount until ingest picks it up.
type LocalUploader struct{}

func (LocalUploader) Upload(_ context.Context, path string) (string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return "", err
	}
	if info.IsDir() {
		return "", fmt.Errorf("%s is a directory", path)
	}
	return "file/" + uuid.NewString(), nil
}
