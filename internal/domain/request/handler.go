package request

import (
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/theradocs/theradocs/internal/platform/auth"
	"github.com/theradocs/theradocs/internal/platform/blobstore"
	"github.com/theradocs/theradocs/pkg/pagination"
)

type Handler struct {
	svc   *Service
	blobs blobstore.BlobStore
}

func NewHandler(svc *Service, blobs blobstore.BlobStore) *Handler {
	return &Handler{svc: svc, blobs: blobs}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.GET("/requests", h.List)
	api.GET("/requests/:id", h.Get)
	api.GET("/requests/:id/document", h.DownloadDocument)

	guardian := api.Group("", auth.RequireRole(auth.RoleGuardian))
	guardian.POST("/requests", h.Create)

	staff := api.Group("", auth.RequireRole(auth.RoleTherapist))
	staff.PUT("/requests/:id/draft", h.SaveDraft)
	staff.POST("/requests/:id/submit", h.SubmitContent)
	staff.POST("/requests/:id/sign", h.SignDocument)

	admin := api.Group("", auth.RequireRole(auth.RoleAdmin))
	admin.POST("/requests/:id/assign", h.AssignAuthor)
	admin.POST("/requests/:id/approve", h.ApproveContent)
	admin.POST("/requests/:id/reject", h.RejectContent)
	admin.POST("/requests/:id/document", h.AttachDocument)
	admin.POST("/requests/:id/accept", h.AcceptFinal)
	admin.POST("/requests/:id/reject-final", h.RejectFinal)
	admin.DELETE("/requests/:id", h.Delete)
}

func svcError(err error) error {
	var it *InvalidTransitionError
	var vf *ValidationError
	var cf *CollaboratorError
	switch {
	case errors.Is(err, ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "not found")
	case errors.Is(err, ErrForbidden):
		return echo.NewHTTPError(http.StatusForbidden, "forbidden")
	case errors.As(err, &it):
		return echo.NewHTTPError(http.StatusConflict, it.Error())
	case errors.As(err, &vf):
		return echo.NewHTTPError(http.StatusBadRequest, vf.Error())
	case errors.As(err, &cf):
		return echo.NewHTTPError(http.StatusBadGateway, cf.Error())
	}
	return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
}

func parseID(c echo.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	return id, nil
}

// view is what a request looks like from the outside. Requesters never see
// the internal workflow: anything short of acceptance reads as in progress.
type view struct {
	ID                uuid.UUID  `json:"id"`
	PatientID         uuid.UUID  `json:"patient_id"`
	Category          Category   `json:"category"`
	Status            string     `json:"status"`
	RequestDate       time.Time  `json:"request_date"`
	CompletionDate    *time.Time `json:"completion_date,omitempty"`
	DocumentAvailable bool       `json:"document_available"`
}

func guardianView(req *Request) view {
	v := view{
		ID:          req.ID,
		PatientID:   req.PatientID,
		Category:    req.Category,
		Status:      "IN_PROGRESS",
		RequestDate: req.RequestDate,
	}
	if req.Status == StatusAccepted {
		v.Status = string(StatusAccepted)
		v.CompletionDate = req.CompletionDate
		v.DocumentAvailable = req.DocumentRef != nil
	}
	return v
}

func guardianOnly(c echo.Context) bool {
	ctx := c.Request().Context()
	return auth.HasRole(ctx, auth.RoleGuardian) &&
		!auth.HasRole(ctx, auth.RoleAdmin) &&
		!auth.HasRole(ctx, auth.RoleTherapist)
}

func (h *Handler) Create(c echo.Context) error {
	var body struct {
		PatientID uuid.UUID `json:"patient_id"`
		Category  Category  `json:"category"`
		Payload   Payload   `json:"payload"`
	}
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	req, err := h.svc.CreateRequest(c.Request().Context(), body.PatientID, body.Category, body.Payload)
	if err != nil {
		return svcError(err)
	}
	return c.JSON(http.StatusCreated, guardianView(req))
}

func (h *Handler) Get(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	req, err := h.svc.GetRequest(c.Request().Context(), id)
	if err != nil {
		return svcError(err)
	}
	if guardianOnly(c) {
		return c.JSON(http.StatusOK, guardianView(req))
	}
	return c.JSON(http.StatusOK, req)
}

func (h *Handler) List(c echo.Context) error {
	f := Filter{
		Status:   Status(c.QueryParam("status")),
		Category: Category(c.QueryParam("category")),
	}
	if f.Status != "" && !f.Status.Valid() {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid status")
	}
	// Requesters only ever see ACCEPTED or a generic in-progress view, so
	// letting them filter on internal statuses would leak the very states
	// the collapsed view hides.
	if guardianOnly(c) && f.Status != "" && f.Status != StatusAccepted {
		return echo.NewHTTPError(http.StatusBadRequest, "status filter not available")
	}
	if raw := c.QueryParam("patient_id"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid patient_id")
		}
		f.PatientID = &id
	}
	pg := pagination.FromContext(c)
	items, total, err := h.svc.ListRequests(c.Request().Context(), f, pg.Limit, pg.Offset)
	if err != nil {
		return svcError(err)
	}
	if guardianOnly(c) {
		views := make([]view, 0, len(items))
		for _, req := range items {
			views = append(views, guardianView(req))
		}
		return c.JSON(http.StatusOK, pagination.NewResponse(views, total, pg.Limit, pg.Offset))
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

// DownloadDocument streams the final document. Requesters can only reach it
// once the request is accepted; staff can inspect the artifact earlier.
func (h *Handler) DownloadDocument(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	req, err := h.svc.GetRequest(c.Request().Context(), id)
	if err != nil {
		return svcError(err)
	}
	if req.DocumentRef == nil || (guardianOnly(c) && req.Status != StatusAccepted) {
		return echo.NewHTTPError(http.StatusNotFound, "no document available")
	}
	rc, meta, err := h.blobs.Download(c.Request().Context(), *req.DocumentRef)
	if err != nil {
		if errors.Is(err, blobstore.ErrBlobNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "no document available")
		}
		return echo.NewHTTPError(http.StatusBadGateway, err.Error())
	}
	defer rc.Close()
	c.Response().Header().Set(echo.HeaderContentDisposition, `attachment; filename="`+meta.FileName+`"`)
	return c.Stream(http.StatusOK, meta.ContentType, rc)
}

func (h *Handler) AssignAuthor(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var body struct {
		AuthorID uuid.UUID `json:"author_id"`
	}
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	req, err := h.svc.AssignAuthor(c.Request().Context(), id, body.AuthorID)
	if err != nil {
		return svcError(err)
	}
	return c.JSON(http.StatusOK, req)
}

func (h *Handler) SaveDraft(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var body struct {
		Text string `json:"text"`
	}
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	req, err := h.svc.SaveDraft(c.Request().Context(), id, body.Text)
	if err != nil {
		return svcError(err)
	}
	return c.JSON(http.StatusOK, req)
}

func (h *Handler) SubmitContent(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var body struct {
		Text string `json:"text"`
	}
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	req, err := h.svc.SubmitContent(c.Request().Context(), id, body.Text)
	if err != nil {
		return svcError(err)
	}
	return c.JSON(http.StatusOK, req)
}

func (h *Handler) ApproveContent(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	req, err := h.svc.ApproveContent(c.Request().Context(), id)
	if err != nil {
		return svcError(err)
	}
	return c.JSON(http.StatusOK, req)
}

func (h *Handler) RejectContent(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var body struct {
		Notes string `json:"notes"`
	}
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	req, err := h.svc.RejectContent(c.Request().Context(), id, body.Notes)
	if err != nil {
		return svcError(err)
	}
	return c.JSON(http.StatusOK, req)
}

func (h *Handler) AttachDocument(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var body struct {
		DocumentRef string      `json:"document_ref"`
		Generate    bool        `json:"generate"`
		SigningMode SigningMode `json:"signing_mode"`
	}
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	req, err := h.svc.AttachDocument(c.Request().Context(), id, AttachOptions{
		DocumentRef: body.DocumentRef,
		Generate:    body.Generate,
		Mode:        body.SigningMode,
	})
	if err != nil {
		return svcError(err)
	}
	return c.JSON(http.StatusOK, req)
}

func (h *Handler) SignDocument(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	req, err := h.svc.SignDocument(c.Request().Context(), id)
	if err != nil {
		return svcError(err)
	}
	return c.JSON(http.StatusOK, req)
}

func (h *Handler) AcceptFinal(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	req, err := h.svc.AcceptFinal(c.Request().Context(), id)
	if err != nil {
		return svcError(err)
	}
	return c.JSON(http.StatusOK, req)
}

func (h *Handler) RejectFinal(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var body struct {
		Notes string `json:"notes"`
	}
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	req, err := h.svc.RejectFinal(c.Request().Context(), id, body.Notes)
	if err != nil {
		return svcError(err)
	}
	return c.JSON(http.StatusOK, req)
}

func (h *Handler) Delete(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	if err := h.svc.DeleteRequest(c.Request().Context(), id); err != nil {
		return svcError(err)
	}
	return c.NoContent(http.StatusNoContent)
}
