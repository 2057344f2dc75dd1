package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"gcodesync/internal/archive"
	fileutil "gcodesync/internal/file"
	"gcodesync/internal/state"
)

// DefaultExtensions are the program files listed by /api/v1/files.
var DefaultExtensions = []string{".gcode", ".nc"}

// StateReader exposes the latest sync snapshot.
type StateReader interface {
	Snapshot() state.Snapshot
}

// SyncTrigger requests an immediate cycle. It reports false when one is
// already pending.
type SyncTrigger interface {
	Trigger() bool
}

type Options struct {
	DownloadDir string
	Extensions  []string
	// Metrics is mounted on /metrics when set.
	Metrics http.Handler
}

type filesResponse struct {
	Dir   string   `json:"dir"`
	Files []string `json:"files"`
}

type API struct {
	state   StateReader
	trigger SyncTrigger
	opts    Options
}

func NewAPI(stateReader StateReader, trigger SyncTrigger, opts Options) *API {
	if len(opts.Extensions) == 0 {
		opts.Extensions = DefaultExtensions
	}
	return &API{state: stateReader, trigger: trigger, opts: opts}
}

// RegisterRoutes registers API routes on the provided gin engine
func (a *API) RegisterRoutes(router *gin.Engine) {
	api := router.Group("/api/v1")
	{
		api.GET("/status", a.GetStatus)
		api.GET("/files", a.ListFiles)
		api.GET("/files/archive", a.DownloadArchive)
		api.POST("/sync", a.TriggerSync)
	}
	if a.opts.Metrics != nil {
		router.GET("/metrics", gin.WrapH(a.opts.Metrics))
	}
}

// GetStatus returns the last sync snapshot
func (a *API) GetStatus(c *gin.Context) {
	c.JSON(http.StatusOK, a.state.Snapshot())
}

// ListFiles returns the programs present in the download directory
func (a *API) ListFiles(c *gin.Context) {
	files, err := a.listFiles()
	if err != nil {
		log.Warn().Err(err).Str("dir", a.opts.DownloadDir).Msg("list download dir failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "cannot list files"})
		return
	}
	c.JSON(http.StatusOK, filesResponse{Dir: a.opts.DownloadDir, Files: files})
}

// DownloadArchive streams the current programs as a zip
func (a *API) DownloadArchive(c *gin.Context) {
	files, err := a.listFiles()
	if err != nil {
		log.Warn().Err(err).Str("dir", a.opts.DownloadDir).Msg("list download dir failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "cannot list files"})
		return
	}
	if len(files) == 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": "no programs"})
		return
	}

	c.Header("Content-Type", "application/zip")
	c.Header("Content-Disposition", `attachment; filename="programs.zip"`)
	c.Status(http.StatusOK)
	results, err := archive.Write(c.Writer, a.opts.DownloadDir, files)
	if err != nil {
		log.Error().Err(err).Msg("programs archive incomplete")
		return
	}
	failed := 0
	for _, r := range results {
		if r.Err != "" {
			failed++
		}
	}
	log.Info().Int("files", len(results)).Int("failed", failed).Msg("served programs archive")
}

// TriggerSync asks the driver for an immediate cycle
func (a *API) TriggerSync(c *gin.Context) {
	if a.trigger == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "sync trigger unavailable"})
		return
	}
	if !a.trigger.Trigger() {
		log.Debug().Msg("sync trigger ignored: already pending")
		c.JSON(http.StatusConflict, gin.H{"error": "sync already pending"})
		return
	}
	log.Info().Msg("immediate sync requested")
	c.JSON(http.StatusAccepted, gin.H{"status": "queued"})
}

func (a *API) listFiles() ([]string, error) {
	files, err := fileutil.ListByExt(a.opts.DownloadDir, a.opts.Extensions)
	if err != nil {
		return nil, err
	}
	if files == nil {
		files = []string{}
	}
	return files, nil
}
