package carriers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"rateshop-service/internal/models"
)

const (
	upsProductionURL = "https://onlinetools.ups.com"
	upsSandboxURL    = "https://wwwcie.ups.com"

	upsRatingVersion = "v2409"
)

// upsServiceNames maps UPS service codes to display names and speed tiers
var upsServiceNames = map[string]ServiceInfo{
	"01": {Code: "01", Name: "UPS Next Day Air", Type: models.ServiceTypeOvernight},
	"02": {Code: "02", Name: "UPS 2nd Day Air", Type: models.ServiceTypeExpedited},
	"03": {Code: "03", Name: "UPS Ground", Type: models.ServiceTypeStandard},
	"12": {Code: "12", Name: "UPS 3 Day Select", Type: models.ServiceTypeExpedited},
	"13": {Code: "13", Name: "UPS Next Day Air Saver", Type: models.ServiceTypeOvernight},
	"14": {Code: "14", Name: "UPS Next Day Air Early", Type: models.ServiceTypeOvernight},
	"59": {Code: "59", Name: "UPS 2nd Day Air A.M.", Type: models.ServiceTypeExpedited},
	"65": {Code: "65", Name: "UPS Worldwide Saver", Type: models.ServiceTypeOther},
	"07": {Code: "07", Name: "UPS Worldwide Express", Type: models.ServiceTypeOther},
	"08": {Code: "08", Name: "UPS Worldwide Expedited", Type: models.ServiceTypeOther},
	"11": {Code: "11", Name: "UPS Standard", Type: models.ServiceTypeStandard},
}

// upsGuaranteedServices are the services UPS commits delivery dates for
var upsGuaranteedServices = map[string]bool{
	"01": true, "02": true, "13": true, "14": true, "59": true, "07": true,
}

// UPSCarrier implements the Carrier interface for UPS
type UPSCarrier struct {
	clientID     string
	clientSecret string
	accountNum   string
	baseURL      string
	client       *http.Client
	logger       *logrus.Entry

	mu          sync.Mutex
	authToken   string
	tokenExpiry time.Time
}

func init() {
	Register(models.CarrierUPS, NewUPSCarrier)
}

// NewUPSCarrier creates a new UPS carrier adapter
func NewUPSCarrier(cfg Config) (Carrier, error) {
	clientID := cfg.CredentialString("client_id")
	clientSecret := cfg.CredentialString("client_secret")
	if clientID == "" || clientSecret == "" {
		return nil, fmt.Errorf("ups: client_id and client_secret are required")
	}

	baseURL := cfg.BaseURL
	if baseURL == "" {
		if cfg.IsProduction {
			baseURL = upsProductionURL
		} else {
			baseURL = upsSandboxURL
		}
	}

	return &UPSCarrier{
		clientID:     clientID,
		clientSecret: clientSecret,
		accountNum:   cfg.CredentialString("account_number"),
		baseURL:      strings.TrimRight(baseURL, "/"),
		client:       &http.Client{Timeout: 30 * time.Second},
		logger:       logrus.WithField("component", "ups-carrier"),
	}, nil
}

// Name returns the carrier identifier
func (u *UPSCarrier) Name() models.CarrierType {
	return models.CarrierUPS
}

// authenticate obtains an OAuth token, reusing the cached one until it is
// close to expiry
func (u *UPSCarrier) authenticate(ctx context.Context) (string, error) {
	u.mu.Lock()
	defer u.mu.Unlock()

	if u.authToken != "" && time.Now().Before(u.tokenExpiry) {
		return u.authToken, nil
	}

	form := url.Values{"grant_type": {"client_credentials"}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		u.baseURL+"/security/v1/oauth/token", strings.NewReader(form.Encode()))
	if err != nil {
		return "", err
	}
	req.SetBasicAuth(u.clientID, u.clientSecret)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := u.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: token request: %v", ErrUpstream, err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return "", fmt.Errorf("%w: status %d", ErrAuthFailed, resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%w: token endpoint returned %d: %s", ErrUpstream, resp.StatusCode, string(body))
	}

	var tokenResp struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   string `json:"expires_in"`
	}
	if err := json.Unmarshal(body, &tokenResp); err != nil {
		return "", fmt.Errorf("%w: parsing token response: %v", ErrUpstream, err)
	}
	if tokenResp.AccessToken == "" {
		return "", fmt.Errorf("%w: empty access token", ErrAuthFailed)
	}

	ttl := 3600
	if n, err := strconv.Atoi(tokenResp.ExpiresIn); err == nil && n > 0 {
		ttl = n
	}

	u.authToken = tokenResp.AccessToken
	// refresh a minute early to avoid racing the expiry
	u.tokenExpiry = time.Now().Add(time.Duration(ttl-60) * time.Second)
	return u.authToken, nil
}

// TestConnection verifies credentials by fetching a token
func (u *UPSCarrier) TestConnection(ctx context.Context) error {
	_, err := u.authenticate(ctx)
	return err
}

func (u *UPSCarrier) doJSON(ctx context.Context, method, path string, payload interface{}, out interface{}) error {
	token, err := u.authenticate(ctx)
	if err != nil {
		return err
	}

	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, u.baseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := u.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUpstream, err)
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(resp.Body)
	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return fmt.Errorf("%w: status %d", ErrAuthFailed, resp.StatusCode)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("%w: %s returned %d: %s", ErrUpstream, path, resp.StatusCode, truncate(string(raw), 500))
	}
	if out != nil {
		if err := json.Unmarshal(raw, out); err != nil {
			return fmt.Errorf("%w: parsing response from %s: %v", ErrUpstream, path, err)
		}
	}
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

// upsAddress is the UPS JSON address shape
type upsAddress struct {
	AddressLine       []string `json:"AddressLine"`
	City              string   `json:"City"`
	StateProvinceCode string   `json:"StateProvinceCode"`
	PostalCode        string   `json:"PostalCode"`
	CountryCode       string   `json:"CountryCode"`
}

func toUPSAddress(a models.Address) upsAddress {
	lines := []string{a.Street}
	if a.Street2 != "" {
		lines = append(lines, a.Street2)
	}
	return upsAddress{
		AddressLine:       lines,
		City:              a.City,
		StateProvinceCode: a.State,
		PostalCode:        a.PostalCode,
		CountryCode:       a.Country,
	}
}

// GetRates shops all UPS services for the shipment
func (u *UPSCarrier) GetRates(ctx context.Context, req RateRequest) ([]models.RateQuote, error) {
	payload := map[string]interface{}{
		"RateRequest": map[string]interface{}{
			"Request": map[string]interface{}{
				"SubVersion": "2409",
			},
			"Shipment": map[string]interface{}{
				"Shipper": map[string]interface{}{
					"Name":          req.ShipFrom.Name,
					"ShipperNumber": u.accountNum,
					"Address":       toUPSAddress(req.ShipFrom),
				},
				"ShipTo": map[string]interface{}{
					"Name":    req.ShipTo.Name,
					"Address": toUPSAddress(req.ShipTo),
				},
				"ShipFrom": map[string]interface{}{
					"Name":    req.ShipFrom.Name,
					"Address": toUPSAddress(req.ShipFrom),
				},
				"Package": []map[string]interface{}{
					{
						"PackagingType": map[string]string{"Code": "02"},
						"Dimensions": map[string]interface{}{
							"UnitOfMeasurement": map[string]string{"Code": "IN"},
							"Length":            fmt.Sprintf("%.1f", req.Package.Length),
							"Width":             fmt.Sprintf("%.1f", req.Package.Width),
							"Height":            fmt.Sprintf("%.1f", req.Package.Height),
						},
						"PackageWeight": map[string]interface{}{
							"UnitOfMeasurement": map[string]string{"Code": "LBS"},
							"Weight":            fmt.Sprintf("%.1f", req.Package.Weight),
						},
					},
				},
			},
		},
	}

	var result struct {
		RateResponse struct {
			RatedShipment json.RawMessage `json:"RatedShipment"`
		} `json:"RateResponse"`
	}
	path := fmt.Sprintf("/api/rating/%s/Shop", upsRatingVersion)
	if err := u.doJSON(ctx, http.MethodPost, path, payload, &result); err != nil {
		return nil, err
	}

	// UPS returns an object for a single result and an array for several
	var shipments []upsRatedShipment
	raw := result.RateResponse.RatedShipment
	if len(raw) > 0 && raw[0] == '[' {
		if err := json.Unmarshal(raw, &shipments); err != nil {
			return nil, fmt.Errorf("%w: parsing rated shipments: %v", ErrUpstream, err)
		}
	} else if len(raw) > 0 {
		var single upsRatedShipment
		if err := json.Unmarshal(raw, &single); err != nil {
			return nil, fmt.Errorf("%w: parsing rated shipment: %v", ErrUpstream, err)
		}
		shipments = []upsRatedShipment{single}
	}

	quotes := make([]models.RateQuote, 0, len(shipments))
	for _, s := range shipments {
		cost, err := strconv.ParseFloat(s.TotalCharges.MonetaryValue, 64)
		if err != nil {
			u.logger.WithField("service", s.Service.Code).Warn("Skipping rate with unparseable charge")
			continue
		}

		info, ok := upsServiceNames[s.Service.Code]
		if !ok {
			info = ServiceInfo{Code: s.Service.Code, Name: "UPS " + s.Service.Code, Type: models.ServiceTypeOther}
		}

		days := 0
		if s.GuaranteedDelivery.BusinessDaysInTransit != "" {
			days, _ = strconv.Atoi(s.GuaranteedDelivery.BusinessDaysInTransit)
		}

		quotes = append(quotes, models.RateQuote{
			Carrier:       models.CarrierUPS,
			ServiceCode:   info.Code,
			ServiceName:   info.Name,
			ServiceType:   info.Type,
			Cost:          cost,
			BaseCost:      cost,
			Currency:      s.TotalCharges.CurrencyCode,
			EstimatedDays: days,
			Guaranteed:    upsGuaranteedServices[s.Service.Code],
		})
	}
	return quotes, nil
}

type upsRatedShipment struct {
	Service struct {
		Code string `json:"Code"`
	} `json:"Service"`
	TotalCharges struct {
		CurrencyCode  string `json:"CurrencyCode"`
		MonetaryValue string `json:"MonetaryValue"`
	} `json:"TotalCharges"`
	GuaranteedDelivery struct {
		BusinessDaysInTransit string `json:"BusinessDaysInTransit"`
	} `json:"GuaranteedDelivery"`
}

// CreateShipment purchases a UPS label
func (u *UPSCarrier) CreateShipment(ctx context.Context, req ShipmentRequest) (*ShipmentResult, error) {
	payload := map[string]interface{}{
		"ShipmentRequest": map[string]interface{}{
			"Request": map[string]interface{}{
				"RequestOption": "nonvalidate",
			},
			"Shipment": map[string]interface{}{
				"Description": req.Reference,
				"Shipper": map[string]interface{}{
					"Name":          req.ShipFrom.Name,
					"Phone":         map[string]string{"Number": req.ShipFrom.Phone},
					"ShipperNumber": u.accountNum,
					"Address":       toUPSAddress(req.ShipFrom),
				},
				"ShipTo": map[string]interface{}{
					"Name":    req.ShipTo.Name,
					"Phone":   map[string]string{"Number": req.ShipTo.Phone},
					"Address": toUPSAddress(req.ShipTo),
				},
				"ShipFrom": map[string]interface{}{
					"Name":    req.ShipFrom.Name,
					"Address": toUPSAddress(req.ShipFrom),
				},
				"PaymentInformation": map[string]interface{}{
					"ShipmentCharge": map[string]interface{}{
						"Type":        "01",
						"BillShipper": map[string]string{"AccountNumber": u.accountNum},
					},
				},
				"Service": map[string]string{"Code": req.ServiceCode},
				"Package": map[string]interface{}{
					"Packaging": map[string]string{"Code": "02"},
					"Dimensions": map[string]interface{}{
						"UnitOfMeasurement": map[string]string{"Code": "IN"},
						"Length":            fmt.Sprintf("%.1f", req.Package.Length),
						"Width":             fmt.Sprintf("%.1f", req.Package.Width),
						"Height":            fmt.Sprintf("%.1f", req.Package.Height),
					},
					"PackageWeight": map[string]interface{}{
						"UnitOfMeasurement": map[string]string{"Code": "LBS"},
						"Weight":            fmt.Sprintf("%.1f", req.Package.Weight),
					},
				},
				"LabelSpecification": map[string]interface{}{
					"LabelImageFormat": map[string]string{"Code": "PNG"},
				},
			},
		},
	}

	var result struct {
		ShipmentResponse struct {
			ShipmentResults struct {
				ShipmentIdentificationNumber string `json:"ShipmentIdentificationNumber"`
				ShipmentCharges              struct {
					TotalCharges struct {
						CurrencyCode  string `json:"CurrencyCode"`
						MonetaryValue string `json:"MonetaryValue"`
					} `json:"TotalCharges"`
				} `json:"ShipmentCharges"`
				PackageResults struct {
					TrackingNumber string `json:"TrackingNumber"`
					ShippingLabel  struct {
						GraphicImage string `json:"GraphicImage"`
					} `json:"ShippingLabel"`
				} `json:"PackageResults"`
			} `json:"ShipmentResults"`
		} `json:"ShipmentResponse"`
	}
	path := fmt.Sprintf("/api/shipments/%s/ship", upsRatingVersion)
	if err := u.doJSON(ctx, http.MethodPost, path, payload, &result); err != nil {
		return nil, err
	}

	shipRes := result.ShipmentResponse.ShipmentResults
	tracking := shipRes.PackageResults.TrackingNumber
	if tracking == "" {
		tracking = shipRes.ShipmentIdentificationNumber
	}
	if tracking == "" {
		return nil, ErrNoTracking
	}

	cost, _ := strconv.ParseFloat(shipRes.ShipmentCharges.TotalCharges.MonetaryValue, 64)
	serviceName := "UPS " + req.ServiceCode
	if info, ok := upsServiceNames[req.ServiceCode]; ok {
		serviceName = info.Name
	}

	return &ShipmentResult{
		TrackingNumber:    tracking,
		CarrierShipmentID: shipRes.ShipmentIdentificationNumber,
		ServiceName:       serviceName,
		LabelData:         shipRes.PackageResults.ShippingLabel.GraphicImage,
		Cost:              cost,
		Currency:          shipRes.ShipmentCharges.TotalCharges.CurrencyCode,
	}, nil
}

// GetTracking fetches tracking details for a shipment
func (u *UPSCarrier) GetTracking(ctx context.Context, trackingNumber string) (*TrackingInfo, error) {
	var result struct {
		TrackResponse struct {
			Shipment []struct {
				Package []struct {
					Activity []struct {
						Status struct {
							Type        string `json:"type"`
							Description string `json:"description"`
						} `json:"status"`
						Location struct {
							Address struct {
								City string `json:"city"`
							} `json:"address"`
						} `json:"location"`
						Date string `json:"date"`
						Time string `json:"time"`
					} `json:"activity"`
				} `json:"package"`
			} `json:"shipment"`
		} `json:"trackResponse"`
	}
	path := "/api/track/v1/details/" + url.PathEscape(trackingNumber)
	if err := u.doJSON(ctx, http.MethodGet, path, nil, &result); err != nil {
		return nil, err
	}

	info := &TrackingInfo{TrackingNumber: trackingNumber, Status: "unknown"}
	for _, s := range result.TrackResponse.Shipment {
		for _, p := range s.Package {
			for _, a := range p.Activity {
				info.Events = append(info.Events, TrackingEvent{
					Status:      a.Status.Type,
					Description: a.Status.Description,
					Location:    a.Location.Address.City,
					Timestamp:   a.Date + a.Time,
				})
			}
		}
	}
	if len(info.Events) > 0 {
		info.Status = info.Events[0].Status
		info.Delivered = info.Events[0].Status == "D"
	}
	return info, nil
}

// ListServices returns the UPS service catalog
func (u *UPSCarrier) ListServices(ctx context.Context) ([]ServiceInfo, error) {
	out := make([]ServiceInfo, 0, len(upsServiceNames))
	for _, info := range upsServiceNames {
		out = append(out, info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out, nil
}
