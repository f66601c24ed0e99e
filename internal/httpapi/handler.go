package httpapi

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"

	"github.com/czue/commcare-connect/pkg/config"
	"github.com/czue/commcare-connect/pkg/errutil"
	"github.com/czue/commcare-connect/pkg/middleware"
	"github.com/czue/commcare-connect/services/imports"
	"github.com/czue/commcare-connect/services/receiver"
)

// Handler exposes the form receiver and the bulk importers over HTTP.
type Handler struct {
	receiver *receiver.Service
	imports  *imports.Service
	redis    *redis.Client
}

type Params struct {
	fx.In
	Config   *config.Config
	Receiver *receiver.Service
	Imports  *imports.Service
	Redis    *redis.Client `optional:"true"`
}

// NewRouter builds the gin router served by the HTTP server.
func NewRouter(p Params) http.Handler {
	if p.Config.AppEnv == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	h := &Handler{receiver: p.Receiver, imports: p.Imports, redis: p.Redis}

	r := gin.New()
	r.Use(gin.Recovery(), middleware.Error())

	r.GET("/healthz", h.Health)

	api := r.Group("/api")
	api.POST("/receiver", h.SubmitForm)

	opp := api.Group("/opportunity/:opportunity_id")
	opp.POST("/visits/import", h.ImportVisits)
	opp.POST("/payments/import", h.ImportPayments)
	opp.POST("/completed-works/import", h.ImportCompletedWorks)
	opp.POST("/catchments/import", h.ImportCatchments)

	return r
}

var Module = fx.Module("httpapi",
	fx.Provide(NewRouter),
)

func (h *Handler) Health(c *gin.Context) {
	resp := gin.H{"status": "ok"}
	if h.redis != nil {
		if err := h.redis.Ping(c.Request.Context()).Err(); err != nil {
			resp["redis"] = "unreachable"
			c.JSON(http.StatusServiceUnavailable, resp)
			return
		}
		resp["redis"] = "ok"
	}
	c.JSON(http.StatusOK, resp)
}

// SubmitForm accepts one decoded form submission and routes it through the
// classifier. A submission is either fully recorded or not recorded at all.
func (h *Handler) SubmitForm(c *gin.Context) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.Error(errutil.BadRequest("failed to read request body", errutil.WithErr(err)))
		return
	}

	var xform receiver.XForm
	if err := json.Unmarshal(body, &xform); err != nil {
		c.Error(errutil.MalformedInput("failed to decode form submission", errutil.WithErr(err)))
		return
	}
	if xform.ID == "" {
		c.Error(errutil.MalformedInput("form submission is missing an id"))
		return
	}

	// Preserve the serialized form body verbatim when the sender did not
	// split it out.
	if len(xform.RawForm) == 0 {
		var envelope struct {
			Form json.RawMessage `json:"form"`
		}
		if err := json.Unmarshal(body, &envelope); err == nil {
			xform.RawForm = envelope.Form
		}
	}

	if err := h.receiver.ProcessSubmission(c.Request.Context(), &xform); err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": xform.ID})
}

func (h *Handler) ImportVisits(c *gin.Context) {
	upload, closeUpload, err := formUpload(c)
	if err != nil {
		c.Error(err)
		return
	}
	defer closeUpload()

	status, err := h.imports.BulkUpdateVisitStatus(c.Request.Context(), c.Param("opportunity_id"), upload)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, importResponse(status, "visits were not found"))
}

func (h *Handler) ImportPayments(c *gin.Context) {
	upload, closeUpload, err := formUpload(c)
	if err != nil {
		c.Error(err)
		return
	}
	defer closeUpload()

	status, err := h.imports.BulkUpdatePayments(c.Request.Context(), c.Param("opportunity_id"), upload)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, importResponse(status, "usernames were not found"))
}

func (h *Handler) ImportCompletedWorks(c *gin.Context) {
	upload, closeUpload, err := formUpload(c)
	if err != nil {
		c.Error(err)
		return
	}
	defer closeUpload()

	status, err := h.imports.BulkUpdateCompletedWorkStatus(c.Request.Context(), c.Param("opportunity_id"), upload)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, importResponse(status, "completed works were not found"))
}

func (h *Handler) ImportCatchments(c *gin.Context) {
	upload, closeUpload, err := formUpload(c)
	if err != nil {
		c.Error(err)
		return
	}
	defer closeUpload()

	status, err := h.imports.BulkUpdateCatchments(c.Request.Context(), c.Param("opportunity_id"), upload)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, importResponse(status, "catchment areas were not found"))
}

func formUpload(c *gin.Context) (*imports.Upload, func(), error) {
	fileHeader, err := c.FormFile("file")
	if err != nil {
		return nil, nil, errutil.BadRequest("a 'file' upload is required", errutil.WithErr(err))
	}

	f, err := fileHeader.Open()
	if err != nil {
		return nil, nil, errutil.BadRequest("failed to open uploaded file", errutil.WithErr(err))
	}

	upload := &imports.Upload{
		Name:        fileHeader.Filename,
		ContentType: fileHeader.Header.Get("Content-Type"),
		Reader:      f,
	}
	return upload, func() { f.Close() }, nil
}

func importResponse(status *imports.ImportStatus, noun string) gin.H {
	resp := gin.H{
		"seen":    status.SeenCount(),
		"missing": status.MissingCount(),
	}
	if msg := status.MissingMessage(noun); msg != "" {
		resp["missing_message"] = msg
	}
	return resp
}
