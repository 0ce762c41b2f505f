// Package seed loads the seed dataset and replaces the songs collection
// with it.  The dataset is bundled into the binary; a file on disk can
// override it.
package seed

import (
	"context"
	_ "embed"
	"os"

	"github.com/charmbracelet/log"
	"github.com/juju/errors"

	"github.com/iliyamo/song-service/internal/model"
)

//go:embed songs.json
var bundled []byte

// Resetter replaces the whole collection with the given songs.
type Resetter interface {
	Reset(ctx context.Context, songs []model.Song) (int, error)
}

// Load returns the songs of the dataset at path, or of the bundled dataset
// when path is empty.
func Load(path string) ([]model.Song, error) {
	data := bundled
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, errors.Annotatef(err, "reading seed file %s", path)
		}
		data = b
	}
	songs, err := model.DecodeSongs(data)
	if err != nil {
		return nil, errors.Annotate(err, "decoding seed dataset")
	}
	seen := make(map[int64]bool, len(songs))
	for i, s := range songs {
		id, ok := s.ID()
		if !ok {
			return nil, errors.NotValidf("seed song #%d without integer id", i)
		}
		if seen[id] {
			return nil, errors.NotValidf("seed song id %d repeated", id)
		}
		seen[id] = true
	}
	return songs, nil
}

// Apply drops every stored song and inserts the dataset at path.
func Apply(ctx context.Context, r Resetter, path string, logger *log.Logger) (int, error) {
	songs, err := Load(path)
	if err != nil {
		return 0, errors.Trace(err)
	}
	n, err := r.Reset(ctx, songs)
	if err != nil {
		return n, errors.Trace(err)
	}
	source := path
	if source == "" {
		source = "bundled"
	}
	logger.Info("songs collection re-seeded", "source", source, "songs", n)
	return n, nil
}
