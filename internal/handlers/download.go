package handlers

import (
	"bytes"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gabriel-vasile/mimetype"

	"github.com/fjmerc/airlift/internal/config"
	"github.com/fjmerc/airlift/internal/metrics"
	"github.com/fjmerc/airlift/internal/registry"
)

// sniffLen is how many leading bytes feed content type detection.
const sniffLen = 3072

func downloadFile(w http.ResponseWriter, r *http.Request, reg *registry.Registry, cfg *config.Config, uploadID int64) {
	id := requesterIdentity(r, cfg)
	expectedMD5 := r.URL.Query().Get("md5hash")

	upload, rc, err := reg.OpenArchivedFile(r.Context(), id.FleetID, uploadID, expectedMD5)
	if err != nil {
		metrics.DownloadsTotal.WithLabelValues("failure").Inc()
		sendRegistryError(w, err)
		return
	}
	defer rc.Close()

	head := make([]byte, sniffLen)
	n, err := io.ReadFull(rc, head)
	if err != nil && err != io.EOF && err != io.ErrUnexpectedEOF {
		metrics.DownloadsTotal.WithLabelValues("failure").Inc()
		slog.Error("failed to read archived file", "upload_id", uploadID, "error", err)
		sendRegistryError(w, err)
		return
	}
	head = head[:n]

	w.Header().Set("Content-Type", mimetype.Detect(head).String())
	w.Header().Set("Content-Length", strconv.FormatInt(upload.SizeBytes, 10))
	w.Header().Set("Content-Disposition",
		fmt.Sprintf("attachment; filename=%q", upload.Filename))

	if _, err := io.Copy(w, io.MultiReader(bytes.NewReader(head), rc)); err != nil {
		// Response already started; the client most likely went away.
		slog.Warn("download interrupted", "upload_id", uploadID, "error", err)
		return
	}

	metrics.DownloadsTotal.WithLabelValues("success").Inc()
}
