package main

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/mcclellann/prestaya/pkg/amortization"
	"github.com/mcclellann/prestaya/pkg/cache"
	"github.com/mcclellann/prestaya/pkg/format"
	"github.com/mcclellann/prestaya/pkg/ledger"
	"github.com/mcclellann/prestaya/pkg/models"
	"github.com/mcclellann/prestaya/pkg/settings"
	"github.com/mcclellann/prestaya/pkg/settlement"
	"github.com/mcclellann/prestaya/pkg/store"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Server holds the ledger instance.
type Server struct {
	ledger  *ledger.Ledger
	storage store.Storage // Keep a reference to the storage to close it
	logger  *zap.Logger
	now     func() time.Time
	loc     *time.Location // business time zone for "today"
}

// NewServer wires a ledger over s. loc decides the calendar day used when a
// request omits its date; nil means UTC.
func NewServer(s store.Storage, c cache.Cache, loc *time.Location, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if loc == nil {
		loc = time.UTC
	}
	l := ledger.NewLedger(s, c, logger)
	l.SetLocation(loc)
	return &Server{
		ledger:  l,
		storage: s,
		logger:  logger,
		now:     time.Now,
		loc:     loc,
	}
}

// Router registers every endpoint on a new mux router.
func (s *Server) Router() *mux.Router {
	router := mux.NewRouter()

	router.HandleFunc("/loans", s.listLoansHandler).Methods("GET")
	router.HandleFunc("/loans", s.createLoanHandler).Methods("POST")
	router.HandleFunc("/loans/{id}", s.getLoanHandler).Methods("GET")
	router.HandleFunc("/loans/{id}", s.deleteLoanHandler).Methods("DELETE")
	router.HandleFunc("/loans/{id}/installments", s.listInstallmentsHandler).Methods("GET")
	router.HandleFunc("/loans/{id}/installments/{number:[0-9]+}/payments", s.settleHandler).Methods("POST")
	router.HandleFunc("/loans/{id}/installments/{number:[0-9]+}/quote", s.quoteHandler).Methods("GET")
	router.HandleFunc("/loans/{id}/payments", s.listPaymentsHandler).Methods("GET")
	router.HandleFunc("/schedules/preview", s.previewHandler).Methods("POST")
	router.HandleFunc("/settings", s.listSettingsHandler).Methods("GET")
	router.HandleFunc("/settings/{key}", s.putSettingHandler).Methods("PUT")
	router.HandleFunc("/portfolio/summary", s.portfolioSummaryHandler).Methods("GET")
	router.HandleFunc("/portfolio/delinquencies", s.delinquenciesHandler).Methods("GET")

	return router
}

// termsRequest is the JSON shape of loan terms. Dates are YYYY-MM-DD and
// default to today in the business time zone.
type termsRequest struct {
	Principal            decimal.Decimal           `json:"principal"`
	AnnualRatePercent    decimal.Decimal           `json:"annual_rate_percent"`
	NumberOfInstallments int                       `json:"number_of_installments"`
	Frequency            models.Frequency          `json:"frequency"`
	System               models.AmortizationSystem `json:"amortization_system"`
	StartDate            string                    `json:"start_date"`
}

func (s *Server) terms(req termsRequest) (models.LoanTerms, error) {
	start, err := s.dateOrToday(req.StartDate)
	if err != nil {
		return models.LoanTerms{}, err
	}
	return models.LoanTerms{
		Principal:            req.Principal,
		AnnualRatePercent:    req.AnnualRatePercent,
		NumberOfInstallments: req.NumberOfInstallments,
		Frequency:            req.Frequency,
		System:               req.System,
		StartDate:            start,
	}, nil
}

func (s *Server) dateOrToday(v string) (time.Time, error) {
	if v == "" {
		return settlement.BusinessDay(s.now(), s.loc), nil
	}
	return format.ParseDate(v)
}

func (s *Server) createLoanHandler(w http.ResponseWriter, r *http.Request) {
	var req struct {
		CustomerKey string `json:"customer_key"`
		termsRequest
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if req.CustomerKey == "" {
		http.Error(w, "customer_key is required", http.StatusBadRequest)
		return
	}
	terms, err := s.terms(req.termsRequest)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	loan, err := s.ledger.CreateLoan(r.Context(), req.CustomerKey, terms)
	if err != nil {
		s.writeError(w, "create loan", err)
		return
	}
	writeJSON(w, http.StatusCreated, loan)
}

func (s *Server) previewHandler(w http.ResponseWriter, r *http.Request) {
	var req termsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	terms, err := s.terms(req)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	preview, err := s.ledger.PreviewSchedule(r.Context(), terms)
	if err != nil {
		s.writeError(w, "preview schedule", err)
		return
	}
	writeJSON(w, http.StatusOK, preview)
}

func (s *Server) getLoanHandler(w http.ResponseWriter, r *http.Request) {
	loanID, ok := loanIDVar(w, r)
	if !ok {
		return
	}
	loan, err := s.ledger.GetLoan(r.Context(), loanID)
	if err != nil {
		s.writeError(w, "get loan", err)
		return
	}
	writeJSON(w, http.StatusOK, loan)
}

func (s *Server) listLoansHandler(w http.ResponseWriter, r *http.Request) {
	loans, err := s.ledger.GetAllLoans(r.Context())
	if err != nil {
		s.writeError(w, "list loans", err)
		return
	}
	writeJSON(w, http.StatusOK, loans)
}

func (s *Server) deleteLoanHandler(w http.ResponseWriter, r *http.Request) {
	loanID, ok := loanIDVar(w, r)
	if !ok {
		return
	}
	if err := s.ledger.DeleteLoan(r.Context(), loanID); err != nil {
		s.writeError(w, "delete loan", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) listInstallmentsHandler(w http.ResponseWriter, r *http.Request) {
	loanID, ok := loanIDVar(w, r)
	if !ok {
		return
	}
	loan, err := s.ledger.GetLoan(r.Context(), loanID)
	if err != nil {
		s.writeError(w, "list installments", err)
		return
	}
	writeJSON(w, http.StatusOK, loan.Installments)
}

func (s *Server) settleHandler(w http.ResponseWriter, r *http.Request) {
	loanID, ok := loanIDVar(w, r)
	if !ok {
		return
	}
	number, _ := strconv.Atoi(mux.Vars(r)["number"])

	var req struct {
		Amount decimal.Decimal `json:"amount"`
		AsOf   string          `json:"as_of"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if req.Amount.LessThanOrEqual(decimal.Zero) {
		http.Error(w, "Amount must be positive", http.StatusBadRequest)
		return
	}
	asOf, err := s.dateOrToday(req.AsOf)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	res, err := s.ledger.SettleInstallment(r.Context(), loanID, number, req.Amount, asOf)
	if err != nil {
		s.writeError(w, "settle installment", err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

func (s *Server) quoteHandler(w http.ResponseWriter, r *http.Request) {
	loanID, ok := loanIDVar(w, r)
	if !ok {
		return
	}
	number, _ := strconv.Atoi(mux.Vars(r)["number"])
	asOf, err := s.dateOrToday(r.URL.Query().Get("as_of"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	q, err := s.ledger.Quote(r.Context(), loanID, number, asOf)
	if err != nil {
		s.writeError(w, "quote installment", err)
		return
	}
	writeJSON(w, http.StatusOK, q)
}

func (s *Server) listPaymentsHandler(w http.ResponseWriter, r *http.Request) {
	loanID, ok := loanIDVar(w, r)
	if !ok {
		return
	}
	payments, err := s.ledger.GetPayments(r.Context(), loanID)
	if err != nil {
		s.writeError(w, "list payments", err)
		return
	}
	writeJSON(w, http.StatusOK, payments)
}

func (s *Server) listSettingsHandler(w http.ResponseWriter, r *http.Request) {
	entries, err := s.ledger.Settings(r.Context())
	if err != nil {
		s.writeError(w, "list settings", err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

func (s *Server) putSettingHandler(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Value string `json:"value"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	setting, err := s.ledger.PutSetting(r.Context(), mux.Vars(r)["key"], req.Value)
	if err != nil {
		s.writeError(w, "put setting", err)
		return
	}
	writeJSON(w, http.StatusOK, setting)
}

func (s *Server) portfolioSummaryHandler(w http.ResponseWriter, r *http.Request) {
	asOf, err := s.dateOrToday(r.URL.Query().Get("as_of"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	sum, err := s.ledger.PortfolioSummary(r.Context(), asOf)
	if err != nil {
		s.writeError(w, "portfolio summary", err)
		return
	}
	writeJSON(w, http.StatusOK, sum)
}

func (s *Server) delinquenciesHandler(w http.ResponseWriter, r *http.Request) {
	asOf, err := s.dateOrToday(r.URL.Query().Get("as_of"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	items, err := s.ledger.Delinquencies(r.Context(), asOf)
	if err != nil {
		s.writeError(w, "list delinquencies", err)
		return
	}
	if items == nil {
		items = []ledger.Delinquency{}
	}
	writeJSON(w, http.StatusOK, items)
}

// writeError maps domain errors to status codes. Anything unrecognised is a
// 500 and gets logged.
func (s *Server) writeError(w http.ResponseWriter, action string, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, store.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, amortization.ErrInvalidTerms),
		errors.Is(err, settings.ErrInvalidSetting),
		errors.Is(err, settings.ErrUnknownSetting):
		status = http.StatusBadRequest
	case errors.Is(err, settlement.ErrInstallmentAlreadyPaid),
		errors.Is(err, settlement.ErrLoanNotActive),
		errors.Is(err, store.ErrConflict):
		status = http.StatusConflict
	}
	if status == http.StatusInternalServerError {
		s.logger.Error("request failed", zap.String("op", "api."+action), zap.Error(err))
	}
	http.Error(w, "Failed to "+action+": "+err.Error(), status)
}

func loanIDVar(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	loanID, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		http.Error(w, "Invalid loan ID", http.StatusBadRequest)
		return uuid.Nil, false
	}
	return loanID, true
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
