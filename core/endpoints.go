package core

import (
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"
	"github.com/go-playground/validator/v10"
	"quantlab/config"
	sm "quantlab/models"
)

const (
	DefaultAddr = ":8080"

	maxBodyBytes = 1 << 20
)

// error codes carried in ServiceResponse.Code
const (
	codeInvalidRequest    = "INVALID_REQUEST"
	codeValidation        = "VALIDATION_FAILED"
	codeInsufficientData  = "INSUFFICIENT_DATA"
	codeAlignment         = "ALIGNMENT"
	codeInsufficientAsset = "INSUFFICIENT_ASSETS"
	codeOptimization      = "OPTIMIZATION_FAILED"
	codeInternal          = "INTERNAL"
)

type handler struct {
	sc       *ServiceContext
	validate *validator.Validate
}

func NewValidator() *validator.Validate {
	v := validator.New()
	if err := v.RegisterValidation("ticker", isValidTicker); err != nil {
		panic(fmt.Sprintf("registering ticker validation: %v", err))
	}

	// use json names in error messages
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// isValidTicker allows upper case letters, digits, dots and dashes, at most 10 characters
func isValidTicker(fl validator.FieldLevel) bool {
	ticker := fl.Field().String()
	if len(ticker) < 1 || len(ticker) > 10 {
		return false
	}
	for _, ch := range ticker {
		if !((ch >= 'A' && ch <= 'Z') || (ch >= '0' && ch <= '9') || ch == '.' || ch == '-') {
			return false
		}
	}
	return true
}

func NewRouter(sc *ServiceContext, allowedOrigins []string) http.Handler {
	h := &handler{sc: sc, validate: NewValidator()}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(sc))
	r.Use(middleware.Recoverer)
	r.Use(sc.Telemetry.Middleware)
	r.Use(cors(allowedOrigins))

	r.Route("/api", func(r chi.Router) {
		r.Use(render.SetContentType(render.ContentTypeJSON))

		r.Get("/ping", h.ping)

		r.Route("/analytics", func(r chi.Router) {
			r.Post("/performance", h.performance)
			r.Get("/equity-curve", h.equityCurve)
			r.Get("/drawdown", h.drawdown)
			r.Get("/equity-curve.png", h.equityCurvePNG)
			r.Get("/drawdown.png", h.drawdownPNG)
		})

		r.Post("/portfolio/allocate", h.allocate)
		r.Post("/signals", h.signals)
	})

	r.Handle("/metrics", sc.Telemetry.Handler())

	return r
}

func GetHttpServer(sc *ServiceContext, cfg config.ServerConfig) *http.Server {
	addr := cfg.Addr
	if addr == "" {
		addr = DefaultAddr
	}

	return &http.Server{
		Addr:           addr,
		Handler:        NewRouter(sc, cfg.AllowedOrigins),
		ReadTimeout:    cfg.ReadTimeout,
		WriteTimeout:   cfg.WriteTimeout,
		MaxHeaderBytes: 1 << 20,
	}
}

func cors(allowedOrigins []string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			for _, allowed := range allowedOrigins {
				if allowed == "*" || strings.EqualFold(allowed, origin) {
					w.Header().Set("Access-Control-Allow-Origin", origin)
					w.Header().Set("Access-Control-Allow-Credentials", "true")
					w.Header().Add("Vary", "Origin")
					break
				}
			}
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Origin, Content-Type, Accept, Authorization")
			w.Header().Set("Access-Control-Expose-Headers", "Content-Length")
			w.Header().Set("Access-Control-Max-Age", strconv.Itoa(int((12 * time.Hour).Seconds())))

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func requestLogger(sc *ServiceContext) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			sc.log().WithFields(map[string]any{
				"method":     r.Method,
				"path":       r.URL.Path,
				"status":     ww.Status(),
				"bytes":      ww.BytesWritten(),
				"request_id": middleware.GetReqID(r.Context()),
				"elapsed":    time.Since(start).String(),
			}).Debug("request")
		})
	}
}

func (h *handler) ping(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, map[string]string{"message": "pong"})
}

func (h *handler) performance(w http.ResponseWriter, r *http.Request) {
	var req sm.PerformanceRequest
	if !h.decode(w, r, &req) {
		return
	}
	req.Symbols = normalizeSymbols(req.Symbols)
	req.Benchmark = strings.ToUpper(strings.TrimSpace(req.Benchmark))
	if !h.check(w, r, req) {
		return
	}

	res, err := h.sc.RunPerformanceAnalysis(r.Context(), req)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respondOk(w, r, res)
}

func (h *handler) allocate(w http.ResponseWriter, r *http.Request) {
	var req sm.AllocationRequest
	if !h.decode(w, r, &req) {
		return
	}
	req.Symbols = normalizeSymbols(req.Symbols)
	req.Method = strings.ToLower(strings.TrimSpace(req.Method))
	if !h.check(w, r, req) {
		return
	}

	res, err := h.sc.RunAllocation(r.Context(), req)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respondOk(w, r, res)
}

func (h *handler) signals(w http.ResponseWriter, r *http.Request) {
	var req sm.SignalRequest
	if !h.decode(w, r, &req) {
		return
	}
	req.Symbols = normalizeSymbols(req.Symbols)
	if !h.check(w, r, req) {
		return
	}

	res, err := h.sc.RunSignals(r.Context(), req)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respondOk(w, r, res)
}

type curveQuery struct {
	Symbol       string `json:"symbol" validate:"required,ticker"`
	LookbackDays int    `json:"lookbackDays" validate:"omitempty,min=2,max=20000"`
}

func (h *handler) parseCurveQuery(w http.ResponseWriter, r *http.Request) (curveQuery, bool) {
	q := curveQuery{Symbol: strings.ToUpper(strings.TrimSpace(r.URL.Query().Get("symbol")))}
	if raw := r.URL.Query().Get("lookbackDays"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			h.respondError(w, r, http.StatusBadRequest, codeInvalidRequest, "lookbackDays must be an integer")
			return q, false
		}
		q.LookbackDays = n
	}
	return q, h.check(w, r, q)
}

func (h *handler) equityCurve(w http.ResponseWriter, r *http.Request) {
	q, ok := h.parseCurveQuery(w, r)
	if !ok {
		return
	}
	curve, _, err := h.sc.LoadSymbolCurves(r.Context(), q.Symbol, q.LookbackDays)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	series := sm.NewChartSeries(curve.Dates, curve.Values)
	respondOk(w, r, &series)
}

func (h *handler) drawdown(w http.ResponseWriter, r *http.Request) {
	q, ok := h.parseCurveQuery(w, r)
	if !ok {
		return
	}
	_, drawdown, err := h.sc.LoadSymbolCurves(r.Context(), q.Symbol, q.LookbackDays)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	series := sm.NewChartSeries(drawdown.Dates, drawdown.Values)
	respondOk(w, r, &series)
}

func (h *handler) equityCurvePNG(w http.ResponseWriter, r *http.Request) {
	h.png(w, r, func(q curveQuery, curve EquityCurve, drawdown DrawdownSeries) ([]byte, error) {
		return RenderEquityCurvePNG(q.Symbol, curve)
	})
}

func (h *handler) drawdownPNG(w http.ResponseWriter, r *http.Request) {
	h.png(w, r, func(q curveQuery, curve EquityCurve, drawdown DrawdownSeries) ([]byte, error) {
		return RenderDrawdownPNG(q.Symbol, drawdown)
	})
}

func (h *handler) png(w http.ResponseWriter, r *http.Request, draw func(curveQuery, EquityCurve, DrawdownSeries) ([]byte, error)) {
	q, ok := h.parseCurveQuery(w, r)
	if !ok {
		return
	}
	curve, drawdown, err := h.sc.LoadSymbolCurves(r.Context(), q.Symbol, q.LookbackDays)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	buf, err := draw(q, curve, drawdown)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Content-Length", strconv.Itoa(len(buf)))
	w.WriteHeader(http.StatusOK)
	w.Write(buf)
}

func normalizeSymbols(symbols []string) []string {
	res := make([]string, len(symbols))
	for i, s := range symbols {
		res[i] = strings.ToUpper(strings.TrimSpace(s))
	}
	return res
}

func (h *handler) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := render.DecodeJSON(r.Body, v); err != nil {
		h.respondError(w, r, http.StatusBadRequest, codeInvalidRequest, "request body is not valid json: "+err.Error())
		return false
	}
	return true
}

func (h *handler) check(w http.ResponseWriter, r *http.Request, v any) bool {
	err := h.validate.Struct(v)
	if err == nil {
		return true
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		h.respondError(w, r, http.StatusBadRequest, codeValidation, err.Error())
		return false
	}

	msgs := make([]string, len(verrs))
	for i, fe := range verrs {
		msgs[i] = fe.Namespace() + " failed " + fe.Tag()
		if fe.Param() != "" {
			msgs[i] += "=" + fe.Param()
		}
	}
	h.respondError(w, r, http.StatusBadRequest, codeValidation, strings.Join(msgs, "; "))
	return false
}

// statusFor maps domain errors onto http, anything unrecognised is a 500
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, ErrInsufficientData):
		return http.StatusUnprocessableEntity, codeInsufficientData
	case errors.Is(err, ErrAlignment):
		return http.StatusUnprocessableEntity, codeAlignment
	case errors.Is(err, ErrInsufficientAssets):
		return http.StatusUnprocessableEntity, codeInsufficientAsset
	case errors.Is(err, ErrInvalidParameter):
		return http.StatusBadRequest, codeInvalidRequest
	case errors.Is(err, ErrOptimization):
		return http.StatusInternalServerError, codeOptimization
	default:
		return http.StatusInternalServerError, codeInternal
	}
}

func (h *handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	status, code := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.sc.log().WithError(err).WithField("request_id", middleware.GetReqID(r.Context())).Error("request failed")
	}
	h.respondError(w, r, status, code, err.Error())
}

func (h *handler) respondError(w http.ResponseWriter, r *http.Request, status int, code, msg string) {
	render.Status(r, status)
	render.JSON(w, r, sm.GetServiceResponseError(code, msg))
}

func respondOk[T any](w http.ResponseWriter, r *http.Request, data *T) {
	render.Status(r, http.StatusOK)
	render.JSON(w, r, sm.GetServiceResponseOk(data))
}
