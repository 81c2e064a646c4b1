package wsclient

import (
	"context"
	"log"
	"time"

	"github.com/driftmark/wsclient/internal/archive"
	"github.com/driftmark/wsclient/internal/recorder"
)

// archiveRecording catalogs a finished recording into the optional
// Postgres archive (internal/archive), when Config.ArchiveDSN is set
// alongside RecordTo. Failures are logged, never surfaced: archiving is a
// best-effort supplement to the recording file itself, not a requirement
// for the Connection to function.
func (c *Connection) archiveRecording(stats recorder.Metadata) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	db, err := archive.Open(ctx, c.cfg.ArchiveDSN)
	if err != nil {
		log.Printf("wsclient: %s: archive open: %v", c.id, err)
		return
	}
	defer db.Close()

	if err := archive.Migrate(db); err != nil {
		log.Printf("wsclient: %s: archive migrate: %v", c.id, err)
		return
	}

	store := archive.NewStore(db)
	if _, err := store.Record(ctx, c.cfg.RecordTo, stats); err != nil {
		log.Printf("wsclient: %s: archive record: %v", c.id, err)
	}
}
