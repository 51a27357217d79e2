package handlers

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"regexp"
	"slices"
	"sort"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	domain "github.com/ilakkiyam/api/internal/domain"
	"github.com/ilakkiyam/api/internal/platform/storage"
	"github.com/ilakkiyam/api/internal/services"
)

const (
	maxJSONBodySize    = 64 * 1024
	multipartMemory    = 1 << 20
	proofFormField     = "paymentProof"
	multipartOverhead  = 256 * 1024
	defaultUploadLimit = 5 << 20
	maxFlatItemIndex   = 199
)

var (
	errBodyTooLarge = errors.New("request body too large")
	errEmptyBody    = errors.New("request body is empty")
	flatItemKey     = regexp.MustCompile(`^items\[(\d+)\]\[(bookId|quantity)\]$`)
)

type orderItemRequest struct {
	BookID   string `json:"bookId"`
	Quantity int    `json:"quantity"`
}

type shippingRequest struct {
	Enabled bool            `json:"enabled"`
	Address *addressPayload `json:"address"`
}

// createOrderRequest is the checkout body, decoded from JSON or multipart form fields.
type createOrderRequest struct {
	Customer      contactPayload     `json:"customer"`
	Billing       addressPayload     `json:"billing"`
	Items         []orderItemRequest `json:"items"`
	PaymentMethod string             `json:"paymentMethod"`
	TransactionID string             `json:"transactionId"`
	Shipping      shippingRequest    `json:"shipping"`
	OrderType     string             `json:"orderType"`
	Notes         string             `json:"notes"`
}

func (req createOrderRequest) toCommand(userID string, proof *services.ProofUpload) services.CreateOrderCommand {
	cmd := services.CreateOrderCommand{
		UserID:        userID,
		Customer:      domain.Contact{Name: req.Customer.Name, Email: req.Customer.Email, Phone: req.Customer.Phone},
		Billing:       req.Billing.toDomain(),
		Items:         make([]services.OrderItemInput, 0, len(req.Items)),
		PaymentMethod: domain.PaymentMethod(strings.ToLower(strings.TrimSpace(req.PaymentMethod))),
		TransactionID: req.TransactionID,
		Shipping:      services.ShippingInput{Enabled: req.Shipping.Enabled},
		OrderType:     domain.OrderType(strings.TrimSpace(req.OrderType)),
		Notes:         req.Notes,
		Proof:         proof,
	}
	for _, item := range req.Items {
		cmd.Items = append(cmd.Items, services.OrderItemInput{BookID: item.BookID, Quantity: item.Quantity})
	}
	if req.Shipping.Address != nil {
		addr := req.Shipping.Address.toDomain()
		cmd.Shipping.Address = &addr
	}
	return cmd
}

// checkoutInput is the outcome of parsing POST /orders.
type checkoutInput struct {
	request createOrderRequest
	proof   *services.ProofUpload
	// fields lists decoding problems found before any business validation.
	fields []services.FieldError
}

// parseCheckout decodes JSON or multipart checkout bodies into one typed request.
func parseCheckout(w http.ResponseWriter, r *http.Request, maxUpload int64) (checkoutInput, error) {
	if maxUpload <= 0 {
		maxUpload = defaultUploadLimit
	}
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "multipart/form-data" {
		r.Body = http.MaxBytesReader(w, r.Body, maxUpload+multipartOverhead)
		return parseMultipartCheckout(r, maxUpload)
	}

	var in checkoutInput
	if err := decodeJSONBody(w, r, maxJSONBodySize, &in.request); err != nil {
		return in, err
	}
	return in, nil
}

func parseMultipartCheckout(r *http.Request, maxUpload int64) (checkoutInput, error) {
	var in checkoutInput
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return in, errBodyTooLarge
		}
		return in, fmt.Errorf("invalid multipart body: %w", err)
	}
	form := r.MultipartForm

	req := &in.request
	value := func(key string) string {
		if values := form.Value[key]; len(values) > 0 {
			return values[0]
		}
		return ""
	}
	decodeField := func(key string, dst any) {
		raw := strings.TrimSpace(value(key))
		if raw == "" {
			return
		}
		if err := json.Unmarshal([]byte(raw), dst); err != nil {
			in.fields = append(in.fields, services.FieldError{Field: key, Message: key + " must be a JSON object"})
		}
	}

	decodeField("customer", &req.Customer)
	decodeField("billing", &req.Billing)
	decodeField("shipping", &req.Shipping)
	if raw := strings.TrimSpace(value("items")); raw != "" {
		if err := json.Unmarshal([]byte(raw), &req.Items); err != nil {
			in.fields = append(in.fields, services.FieldError{Field: "items", Message: "items must be a JSON array"})
		}
	} else {
		items, fieldErrs := flatItems(form.Value)
		req.Items = items
		in.fields = append(in.fields, fieldErrs...)
	}
	req.PaymentMethod = value("paymentMethod")
	req.TransactionID = value("transactionId")
	req.OrderType = value("orderType")
	req.Notes = value("notes")

	files := form.File[proofFormField]
	if len(files) == 0 {
		return in, nil
	}
	proof, err := openProof(files[0], maxUpload)
	if err != nil {
		if errors.Is(err, errBodyTooLarge) {
			return in, err
		}
		in.fields = append(in.fields, services.FieldError{Field: proofFormField, Message: err.Error()})
		return in, nil
	}
	in.proof = proof
	return in, nil
}

// flatItems reads items[0][bookId] / items[0][quantity] form keys in index order.
func flatItems(values map[string][]string) ([]orderItemRequest, []services.FieldError) {
	byIndex := map[int]*orderItemRequest{}
	var fieldErrs []services.FieldError
	for key, vals := range values {
		m := flatItemKey.FindStringSubmatch(key)
		if m == nil || len(vals) == 0 {
			continue
		}
		idx, err := strconv.Atoi(m[1])
		if err != nil || idx > maxFlatItemIndex {
			fieldErrs = append(fieldErrs, services.FieldError{Field: key, Message: fmt.Sprintf("item index must be between 0 and %d", maxFlatItemIndex)})
			continue
		}
		item, ok := byIndex[idx]
		if !ok {
			item = &orderItemRequest{}
			byIndex[idx] = item
		}
		switch m[2] {
		case "bookId":
			item.BookID = vals[0]
		case "quantity":
			qty, err := strconv.Atoi(strings.TrimSpace(vals[0]))
			if err != nil {
				fieldErrs = append(fieldErrs, services.FieldError{Field: key, Message: "quantity must be an integer"})
				continue
			}
			item.Quantity = qty
		}
	}
	indexes := make([]int, 0, len(byIndex))
	for idx := range byIndex {
		indexes = append(indexes, idx)
	}
	sort.Ints(indexes)
	items := make([]orderItemRequest, 0, len(indexes))
	for _, idx := range indexes {
		items = append(items, *byIndex[idx])
	}
	sort.Slice(fieldErrs, func(i, j int) bool { return fieldErrs[i].Field < fieldErrs[j].Field })
	return items, fieldErrs
}

func openProof(header *multipart.FileHeader, maxUpload int64) (*services.ProofUpload, error) {
	if header.Size > maxUpload {
		return nil, errBodyTooLarge
	}
	if header.Size == 0 {
		return nil, errors.New("payment proof file is empty")
	}
	file, err := header.Open()
	if err != nil {
		return nil, errors.New("payment proof could not be read")
	}
	defer file.Close()

	// Buffered so the multipart temp file can be released before the upload starts.
	data, err := io.ReadAll(io.LimitReader(file, maxUpload+1))
	if err != nil {
		return nil, errors.New("payment proof could not be read")
	}
	if int64(len(data)) > maxUpload {
		return nil, errBodyTooLarge
	}

	contentType, _, _ := mime.ParseMediaType(header.Header.Get("Content-Type"))
	if contentType == "" || contentType == "application/octet-stream" {
		contentType, _, _ = mime.ParseMediaType(http.DetectContentType(data))
	}
	if !slices.Contains(storage.AllowedProofTypes, contentType) {
		return nil, fmt.Errorf("payment proof must be one of %s", strings.Join(storage.AllowedProofTypes, ", "))
	}
	return &services.ProofUpload{
		FileName:    header.Filename,
		ContentType: contentType,
		Size:        int64(len(data)),
		Body:        bytes.NewReader(data),
	}, nil
}

type shippingInfoRequest struct {
	TrackingNumber string `json:"trackingNumber"`
	Carrier        string `json:"carrier"`
}

type updateStatusRequest struct {
	Status          string               `json:"status"`
	Notes           string               `json:"notes"`
	ShippingInfo    *shippingInfoRequest `json:"shippingInfo"`
	ExpectedVersion *int64               `json:"expectedVersion"`
}

type cancelRequest struct {
	Reason          string `json:"reason"`
	ExpectedVersion *int64 `json:"expectedVersion"`
}

type verifyPaymentRequest struct {
	TransactionID   string `json:"transactionId"`
	Notes           string `json:"notes"`
	ExpectedVersion *int64 `json:"expectedVersion"`
}

type rejectPaymentRequest struct {
	Reason          string `json:"reason"`
	ExpectedVersion *int64 `json:"expectedVersion"`
}

type updateShippingRequest struct {
	Enabled         bool             `json:"enabled"`
	Address         *addressPayload  `json:"address"`
	Cost            *decimal.Decimal `json:"cost"`
	ExpectedVersion *int64           `json:"expectedVersion"`
}

// decodeJSONBody decodes a single JSON value. Unknown fields are ignored.
func decodeJSONBody(w http.ResponseWriter, r *http.Request, limit int64, dst any) error {
	if r.Body == nil {
		return errEmptyBody
	}
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, limit))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return errBodyTooLarge
		}
		return fmt.Errorf("unable to read request body: %w", err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return errEmptyBody
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return fmt.Errorf("invalid JSON payload: %w", err)
	}
	return nil
}

// decodeOptionalJSONBody treats an empty body as the zero value.
func decodeOptionalJSONBody(w http.ResponseWriter, r *http.Request, dst any) error {
	err := decodeJSONBody(w, r, maxJSONBodySize, dst)
	if errors.Is(err, errEmptyBody) {
		return nil
	}
	return err
}
