package patient

import (
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/doctorcrm/doctorcrm/internal/platform/auth"
	"github.com/doctorcrm/doctorcrm/internal/platform/blobstore"
	"github.com/doctorcrm/doctorcrm/pkg/pagination"
)

type Handler struct {
	svc   *Service
	files blobstore.Store
}

func NewHandler(svc *Service, files blobstore.Store) *Handler {
	return &Handler{svc: svc, files: files}
}

func (h *Handler) RegisterRoutes(api *echo.Group, guard auth.GuardFunc) {
	api.POST("/auth/patient/login", h.Login)

	dr := api.Group("", guard(auth.RoleDoctor))
	dr.POST("/patients", h.Create)
	dr.GET("/patients", h.List)
	dr.GET("/patients/:id", h.Get)
	dr.PUT("/patients/:id", h.Update)
	dr.DELETE("/patients/:id", h.Delete)
	dr.POST("/patients/:id/reports", h.AddReport)
	dr.POST("/patients/:id/prescriptions", h.IssuePrescription)
	dr.POST("/patients/:id/bills", h.CreateBill)
	dr.PATCH("/patients/:id/bills/:bid/pay", h.MarkBillPaid)

	self := api.Group("", guard(auth.RolePatient))
	self.GET("/patients/me", h.Me)
	self.PUT("/patients/me", h.UpdateMe)
	self.GET("/patients/me/reports", h.MyReports)
	self.GET("/patients/me/prescriptions", h.MyPrescriptions)
	self.GET("/patients/me/bills", h.MyBills)

	// Record reads and PDF downloads are shared; each handler checks the
	// caller owns or treats the patient before serving anything.
	shared := api.Group("", guard(auth.RoleDoctor, auth.RolePatient))
	shared.GET("/patients/:id/reports", h.ListReports)
	shared.GET("/patients/:id/reports/:rid/file", h.DownloadReportFile)
	shared.GET("/patients/:id/prescriptions", h.ListPrescriptions)
	shared.GET("/patients/:id/prescriptions/:pid/pdf", h.DownloadPrescriptionPDF)
	shared.GET("/patients/:id/bills", h.ListBills)
	shared.GET("/patients/:id/bills/:bid/pdf", h.DownloadBillPDF)
}

func patientFromContext(c echo.Context) (*Patient, bool) {
	p, ok := c.Get(auth.RolePatient.ContextKey()).(*Patient)
	return p, ok
}

// callerDoctorID returns the authenticated doctor's id, or uuid.Nil when the
// caller is not a doctor.
func callerDoctorID(c echo.Context) uuid.UUID {
	if role, ok := auth.RoleFromContext(c); !ok || role != auth.RoleDoctor {
		return uuid.Nil
	}
	subject, ok := auth.SubjectFromContext(c)
	if !ok {
		return uuid.Nil
	}
	id, err := uuid.Parse(subject)
	if err != nil {
		return uuid.Nil
	}
	return id
}

// authorizePatient resolves the :id parameter and verifies the caller may
// access that patient's records. Doctors must be the treating doctor;
// patients may only read their own.
func (h *Handler) authorizePatient(c echo.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	role, _ := auth.RoleFromContext(c)
	switch role {
	case auth.RoleDoctor:
		if _, err := h.svc.GetForDoctor(c.Request().Context(), callerDoctorID(c), id); err != nil {
			if err == ErrNotFound {
				return uuid.Nil, echo.NewHTTPError(http.StatusNotFound, "patient not found")
			}
			return uuid.Nil, echo.NewHTTPError(http.StatusInternalServerError, err.Error())
		}
	case auth.RolePatient:
		p, ok := patientFromContext(c)
		if !ok || p.ID != id {
			return uuid.Nil, echo.NewHTTPError(http.StatusForbidden, "access denied")
		}
	default:
		return uuid.Nil, echo.NewHTTPError(http.StatusForbidden, "access denied")
	}
	return id, nil
}

func (h *Handler) Login(c echo.Context) error {
	var body struct {
		PatientID string `json:"patientId"`
		Password  string `json:"password"`
	}
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	token, p, err := h.svc.Login(c.Request().Context(), body.PatientID, body.Password)
	if err == ErrInvalidCredentials {
		return c.JSON(http.StatusUnauthorized, map[string]string{"message": "invalid credentials"})
	}
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "login failed")
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"message":     "login successful",
		"accessToken": token,
		"patient":     p,
	})
}

func (h *Handler) Create(c echo.Context) error {
	var in CreateInput
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	p, err := h.svc.Create(c.Request().Context(), callerDoctorID(c), in)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusCreated, map[string]interface{}{
		"message": "patient registered",
		"patient": p,
	})
}

func (h *Handler) List(c echo.Context) error {
	pg := pagination.FromContext(c)
	patients, total, err := h.svc.List(c.Request().Context(), callerDoctorID(c), c.QueryParam("search"), pg.Limit, pg.Offset)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(patients, total, pg.Limit, pg.Offset))
}

func (h *Handler) Get(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	p, err := h.svc.GetForDoctor(c.Request().Context(), callerDoctorID(c), id)
	if err == ErrNotFound {
		return echo.NewHTTPError(http.StatusNotFound, "patient not found")
	}
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, p)
}

func (h *Handler) Update(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var in UpdateInput
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	p, err := h.svc.Update(c.Request().Context(), callerDoctorID(c), id, in)
	if err == ErrNotFound {
		return echo.NewHTTPError(http.StatusNotFound, "patient not found")
	}
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusOK, p)
}

func (h *Handler) Delete(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	if err := h.svc.Delete(c.Request().Context(), callerDoctorID(c), id); err != nil {
		if err == ErrNotFound {
			return echo.NewHTTPError(http.StatusNotFound, "patient not found")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) Me(c echo.Context) error {
	p, ok := patientFromContext(c)
	if !ok {
		return echo.NewHTTPError(http.StatusUnauthorized, "missing authentication token")
	}
	return c.JSON(http.StatusOK, p)
}

func (h *Handler) UpdateMe(c echo.Context) error {
	p, ok := patientFromContext(c)
	if !ok {
		return echo.NewHTTPError(http.StatusUnauthorized, "missing authentication token")
	}
	var in SelfUpdateInput
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	updated, err := h.svc.UpdateSelf(c.Request().Context(), p.ID, in)
	if err == ErrNotFound {
		return echo.NewHTTPError(http.StatusNotFound, "patient not found")
	}
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, updated)
}

// AddReport accepts JSON, or multipart form data when the report carries
// an attached document.
func (h *Handler) AddReport(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	in, err := h.bindReport(c, id)
	if err != nil {
		return err
	}
	rep, err := h.svc.AddReport(c.Request().Context(), callerDoctorID(c), id, in)
	if err == ErrNotFound {
		return echo.NewHTTPError(http.StatusNotFound, "patient not found")
	}
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusCreated, rep)
}

func (h *Handler) bindReport(c echo.Context, patientID uuid.UUID) (ReportInput, error) {
	var in ReportInput
	ctype := c.Request().Header.Get(echo.HeaderContentType)
	if !strings.HasPrefix(ctype, echo.MIMEMultipartForm) {
		if err := c.Bind(&in); err != nil {
			return in, echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
		}
		return in, nil
	}

	in.Title = c.FormValue("title")
	in.Findings = c.FormValue("findings")
	if d := c.FormValue("reportDate"); d != "" {
		t, err := time.Parse("2006-01-02", d)
		if err != nil {
			return in, echo.NewHTTPError(http.StatusBadRequest, "reportDate must be YYYY-MM-DD")
		}
		in.ReportDate = t
	}
	if _, err := c.FormFile("file"); err == nil {
		meta, err := h.saveUpload(c, "report", patientID)
		if err != nil {
			return in, err
		}
		if fid, err := uuid.Parse(meta.ID); err == nil {
			in.FileID = &fid
		}
	}
	return in, nil
}

func (h *Handler) saveUpload(c echo.Context, category string, ownerID uuid.UUID) (*blobstore.FileMetadata, error) {
	file, err := c.FormFile("file")
	if err != nil {
		return nil, echo.NewHTTPError(http.StatusBadRequest, "file is required")
	}
	src, err := file.Open()
	if err != nil {
		return nil, echo.NewHTTPError(http.StatusInternalServerError, "failed to open uploaded file")
	}
	defer src.Close()

	meta, err := h.files.Save(c.Request().Context(), blobstore.FileMetadata{
		FileName:    file.Filename,
		ContentType: file.Header.Get("Content-Type"),
		OwnerID:     ownerID.String(),
		Category:    category,
	}, src)
	if err != nil {
		switch err {
		case blobstore.ErrFileTooLarge:
			return nil, echo.NewHTTPError(http.StatusRequestEntityTooLarge, err.Error())
		case blobstore.ErrInvalidContentType:
			return nil, echo.NewHTTPError(http.StatusUnsupportedMediaType, err.Error())
		default:
			return nil, echo.NewHTTPError(http.StatusInternalServerError, err.Error())
		}
	}
	return meta, nil
}

func (h *Handler) ListReports(c echo.Context) error {
	id, err := h.authorizePatient(c)
	if err != nil {
		return err
	}
	reports, err := h.svc.ListReports(c.Request().Context(), id)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if reports == nil {
		reports = []*Report{}
	}
	return c.JSON(http.StatusOK, reports)
}

func (h *Handler) MyReports(c echo.Context) error {
	p, ok := patientFromContext(c)
	if !ok {
		return echo.NewHTTPError(http.StatusUnauthorized, "missing authentication token")
	}
	reports, err := h.svc.ListReports(c.Request().Context(), p.ID)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if reports == nil {
		reports = []*Report{}
	}
	return c.JSON(http.StatusOK, reports)
}

func (h *Handler) IssuePrescription(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var in PrescriptionInput
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	presc, err := h.svc.IssuePrescription(c.Request().Context(), callerDoctorID(c), id, in)
	if err == ErrNotFound {
		return echo.NewHTTPError(http.StatusNotFound, "patient not found")
	}
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusCreated, presc)
}

func (h *Handler) ListPrescriptions(c echo.Context) error {
	id, err := h.authorizePatient(c)
	if err != nil {
		return err
	}
	prescriptions, err := h.svc.ListPrescriptions(c.Request().Context(), id)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if prescriptions == nil {
		prescriptions = []*Prescription{}
	}
	return c.JSON(http.StatusOK, prescriptions)
}

func (h *Handler) MyPrescriptions(c echo.Context) error {
	p, ok := patientFromContext(c)
	if !ok {
		return echo.NewHTTPError(http.StatusUnauthorized, "missing authentication token")
	}
	prescriptions, err := h.svc.ListPrescriptions(c.Request().Context(), p.ID)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if prescriptions == nil {
		prescriptions = []*Prescription{}
	}
	return c.JSON(http.StatusOK, prescriptions)
}

func (h *Handler) CreateBill(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var in BillInput
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	bill, err := h.svc.CreateBill(c.Request().Context(), callerDoctorID(c), id, in)
	if err == ErrNotFound {
		return echo.NewHTTPError(http.StatusNotFound, "patient not found")
	}
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusCreated, bill)
}

func (h *Handler) ListBills(c echo.Context) error {
	id, err := h.authorizePatient(c)
	if err != nil {
		return err
	}
	bills, err := h.svc.ListBills(c.Request().Context(), id)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if bills == nil {
		bills = []*Bill{}
	}
	return c.JSON(http.StatusOK, bills)
}

func (h *Handler) MyBills(c echo.Context) error {
	p, ok := patientFromContext(c)
	if !ok {
		return echo.NewHTTPError(http.StatusUnauthorized, "missing authentication token")
	}
	bills, err := h.svc.ListBills(c.Request().Context(), p.ID)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if bills == nil {
		bills = []*Bill{}
	}
	return c.JSON(http.StatusOK, bills)
}

func (h *Handler) MarkBillPaid(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	billID, err := uuid.Parse(c.Param("bid"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid bill id")
	}
	bill, err := h.svc.MarkBillPaid(c.Request().Context(), callerDoctorID(c), id, billID)
	if err == ErrNotFound {
		return echo.NewHTTPError(http.StatusNotFound, "patient not found")
	}
	if err == ErrBillNotFound {
		return echo.NewHTTPError(http.StatusNotFound, "bill not found")
	}
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, bill)
}

func (h *Handler) serveFile(c echo.Context, fileID string) error {
	content, meta, err := h.files.Open(c.Request().Context(), fileID)
	if err == blobstore.ErrFileNotFound {
		return echo.NewHTTPError(http.StatusNotFound, "file not found")
	}
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	defer content.Close()

	c.Response().Header().Set(echo.HeaderContentType, meta.ContentType)
	c.Response().Header().Set(echo.HeaderContentDisposition, `attachment; filename="`+meta.FileName+`"`)
	http.ServeContent(c.Response(), c.Request(), meta.FileName, meta.CreatedAt, content)
	return nil
}

func (h *Handler) DownloadReportFile(c echo.Context) error {
	id, err := h.authorizePatient(c)
	if err != nil {
		return err
	}
	reportID, err := uuid.Parse(c.Param("rid"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid report id")
	}
	rep, err := h.svc.GetReport(c.Request().Context(), id, reportID)
	if err == ErrReportNotFound {
		return echo.NewHTTPError(http.StatusNotFound, "report not found")
	}
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if rep.FileID == nil {
		return echo.NewHTTPError(http.StatusNotFound, "report has no attached file")
	}
	return h.serveFile(c, rep.FileID.String())
}

func (h *Handler) DownloadPrescriptionPDF(c echo.Context) error {
	id, err := h.authorizePatient(c)
	if err != nil {
		return err
	}
	prescriptionID, err := uuid.Parse(c.Param("pid"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid prescription id")
	}
	presc, err := h.svc.GetPrescription(c.Request().Context(), id, prescriptionID)
	if err == ErrPrescriptionNotFound {
		return echo.NewHTTPError(http.StatusNotFound, "prescription not found")
	}
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if presc.PDFFileID == nil {
		return echo.NewHTTPError(http.StatusNotFound, "prescription has no generated pdf")
	}
	return h.serveFile(c, presc.PDFFileID.String())
}

func (h *Handler) DownloadBillPDF(c echo.Context) error {
	id, err := h.authorizePatient(c)
	if err != nil {
		return err
	}
	billID, err := uuid.Parse(c.Param("bid"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid bill id")
	}
	bill, err := h.svc.GetBill(c.Request().Context(), id, billID)
	if err == ErrBillNotFound {
		return echo.NewHTTPError(http.StatusNotFound, "bill not found")
	}
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if bill.PDFFileID == nil {
		return echo.NewHTTPError(http.StatusNotFound, "bill has no generated pdf")
	}
	return h.serveFile(c, bill.PDFFileID.String())
}
