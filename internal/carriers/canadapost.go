package carriers

import (
	"bytes"
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"rateshop-service/internal/models"
)

const (
	canadaPostProductionURL = "https://soa-gw.canadapost.ca"
	canadaPostSandboxURL    = "https://ct.soa-gw.canadapost.ca"

	lbsToKg  = 0.453592
	inchToCm = 2.54
)

// canadaPostServiceTypes buckets Canada Post service codes into speed tiers
var canadaPostServiceTypes = map[string]models.ServiceType{
	"DOM.PC":  models.ServiceTypeOvernight, // Priority
	"DOM.XP":  models.ServiceTypeExpedited, // Xpresspost
	"DOM.EP":  models.ServiceTypeStandard,  // Expedited Parcel
	"DOM.RP":  models.ServiceTypeStandard,  // Regular Parcel
	"USA.EP":  models.ServiceTypeStandard,
	"USA.XP":  models.ServiceTypeExpedited,
	"USA.PW":  models.ServiceTypeOvernight,
	"INT.XP":  models.ServiceTypeExpedited,
	"INT.IP":  models.ServiceTypeOther,
	"INT.SP":  models.ServiceTypeOther,
}

// CanadaPostCarrier implements the Carrier interface for Canada Post
type CanadaPostCarrier struct {
	username       string
	password       string
	customerNumber string
	baseURL        string
	client         *http.Client
	logger         *logrus.Entry
}

func init() {
	Register(models.CarrierCanadaPost, NewCanadaPostCarrier)
}

// NewCanadaPostCarrier creates a new Canada Post carrier adapter
func NewCanadaPostCarrier(cfg Config) (Carrier, error) {
	username := cfg.CredentialString("api_username")
	password := cfg.CredentialString("api_password")
	if username == "" || password == "" {
		return nil, fmt.Errorf("canadapost: api_username and api_password are required")
	}

	baseURL := cfg.BaseURL
	if baseURL == "" {
		if cfg.IsProduction {
			baseURL = canadaPostProductionURL
		} else {
			baseURL = canadaPostSandboxURL
		}
	}

	return &CanadaPostCarrier{
		username:       username,
		password:       password,
		customerNumber: cfg.CredentialString("customer_number"),
		baseURL:        strings.TrimRight(baseURL, "/"),
		client:         &http.Client{Timeout: 30 * time.Second},
		logger:         logrus.WithField("component", "canadapost-carrier"),
	}, nil
}

// Name returns the carrier identifier
func (c *CanadaPostCarrier) Name() models.CarrierType {
	return models.CarrierCanadaPost
}

func (c *CanadaPostCarrier) doXML(ctx context.Context, method, path, contentType string, body []byte, out interface{}) error {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	req.SetBasicAuth(c.username, c.password)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
		req.Header.Set("Accept", contentType)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUpstream, err)
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(resp.Body)
	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return fmt.Errorf("%w: status %d", ErrAuthFailed, resp.StatusCode)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		if msg := parseCanadaPostError(raw); msg != "" {
			return fmt.Errorf("%w: %s", ErrUpstream, msg)
		}
		return fmt.Errorf("%w: %s returned %d", ErrUpstream, path, resp.StatusCode)
	}
	if out != nil {
		if err := xml.Unmarshal(raw, out); err != nil {
			return fmt.Errorf("%w: parsing response from %s: %v", ErrUpstream, path, err)
		}
	}
	return nil
}

func parseCanadaPostError(raw []byte) string {
	var messages struct {
		Message []struct {
			Code        string `xml:"code"`
			Description string `xml:"description"`
		} `xml:"message"`
	}
	if err := xml.Unmarshal(raw, &messages); err != nil || len(messages.Message) == 0 {
		return ""
	}
	parts := make([]string, 0, len(messages.Message))
	for _, m := range messages.Message {
		parts = append(parts, fmt.Sprintf("%s: %s", m.Code, m.Description))
	}
	return strings.Join(parts, "; ")
}

// TestConnection probes the service discovery endpoint, which any valid
// credential pair can read
func (c *CanadaPostCarrier) TestConnection(ctx context.Context) error {
	var services cpServicesResponse
	return c.doXML(ctx, http.MethodGet, "/rs/ship/service",
		"application/vnd.cpc.ship.rate-v4+xml", nil, &services)
}

// cpMailingScenario is the rate request document
type cpMailingScenario struct {
	XMLName        xml.Name `xml:"mailing-scenario"`
	Xmlns          string   `xml:"xmlns,attr"`
	CustomerNumber string   `xml:"customer-number,omitempty"`
	ParcelChars    struct {
		Weight     float64 `xml:"weight"`
		Dimensions struct {
			Length float64 `xml:"length"`
			Width  float64 `xml:"width"`
			Height float64 `xml:"height"`
		} `xml:"dimensions"`
	} `xml:"parcel-characteristics"`
	OriginPostal string `xml:"origin-postal-code"`
	Destination  struct {
		Domestic *struct {
			PostalCode string `xml:"postal-code"`
		} `xml:"domestic,omitempty"`
		UnitedStates *struct {
			ZipCode string `xml:"zip-code"`
		} `xml:"united-states,omitempty"`
		International *struct {
			CountryCode string `xml:"country-code"`
		} `xml:"international,omitempty"`
	} `xml:"destination"`
}

type cpPriceQuotes struct {
	XMLName    xml.Name `xml:"price-quotes"`
	PriceQuote []struct {
		ServiceCode string `xml:"service-code"`
		ServiceName string `xml:"service-name"`
		PriceDetail struct {
			Due float64 `xml:"due"`
		} `xml:"price-details"`
		ServiceStandard struct {
			ExpectedTransitTime int  `xml:"expected-transit-time"`
			GuaranteedDelivery  bool `xml:"guaranteed-delivery"`
		} `xml:"service-standard"`
	} `xml:"price-quote"`
}

type cpServicesResponse struct {
	XMLName xml.Name `xml:"services"`
	Service []struct {
		ServiceCode string `xml:"service-code"`
		ServiceName string `xml:"service-name"`
	} `xml:"service"`
}

func normalizePostal(code string) string {
	return strings.ToUpper(strings.ReplaceAll(code, " ", ""))
}

// GetRates quotes all Canada Post services for the shipment. Weights and
// dimensions convert to kilograms and centimetres on the wire.
func (c *CanadaPostCarrier) GetRates(ctx context.Context, req RateRequest) ([]models.RateQuote, error) {
	scenario := cpMailingScenario{
		Xmlns:          "http://www.canadapost.ca/ws/ship/rate-v4",
		CustomerNumber: c.customerNumber,
		OriginPostal:   normalizePostal(req.ShipFrom.PostalCode),
	}
	scenario.ParcelChars.Weight = round2(req.Package.Weight * lbsToKg)
	scenario.ParcelChars.Dimensions.Length = round2(req.Package.Length * inchToCm)
	scenario.ParcelChars.Dimensions.Width = round2(req.Package.Width * inchToCm)
	scenario.ParcelChars.Dimensions.Height = round2(req.Package.Height * inchToCm)

	switch strings.ToUpper(req.ShipTo.Country) {
	case "CA", "":
		scenario.Destination.Domestic = &struct {
			PostalCode string `xml:"postal-code"`
		}{PostalCode: normalizePostal(req.ShipTo.PostalCode)}
	case "US":
		scenario.Destination.UnitedStates = &struct {
			ZipCode string `xml:"zip-code"`
		}{ZipCode: req.ShipTo.PostalCode}
	default:
		scenario.Destination.International = &struct {
			CountryCode string `xml:"country-code"`
		}{CountryCode: strings.ToUpper(req.ShipTo.Country)}
	}

	body, err := xml.Marshal(scenario)
	if err != nil {
		return nil, err
	}

	var quotes cpPriceQuotes
	if err := c.doXML(ctx, http.MethodPost, "/rs/ship/price",
		"application/vnd.cpc.ship.rate-v4+xml", body, &quotes); err != nil {
		return nil, err
	}

	out := make([]models.RateQuote, 0, len(quotes.PriceQuote))
	for _, q := range quotes.PriceQuote {
		serviceType, ok := canadaPostServiceTypes[q.ServiceCode]
		if !ok {
			serviceType = models.ServiceTypeOther
		}
		out = append(out, models.RateQuote{
			Carrier:       models.CarrierCanadaPost,
			ServiceCode:   q.ServiceCode,
			ServiceName:   q.ServiceName,
			ServiceType:   serviceType,
			Cost:          q.PriceDetail.Due,
			BaseCost:      q.PriceDetail.Due,
			Currency:      "CAD",
			EstimatedDays: q.ServiceStandard.ExpectedTransitTime,
			Guaranteed:    q.ServiceStandard.GuaranteedDelivery,
		})
	}
	return out, nil
}

func round2(v float64) float64 {
	return float64(int(v*100+0.5)) / 100
}

// cpShipment is the shipment creation request document
type cpShipment struct {
	XMLName      xml.Name       `xml:"non-contract-shipment"`
	Xmlns        string         `xml:"xmlns,attr"`
	DeliverySpec cpDeliverySpec `xml:"delivery-spec"`
}

type cpDeliverySpec struct {
	ServiceCode string   `xml:"service-code"`
	Sender      cpSender `xml:"sender"`
	Destination cpDest   `xml:"destination"`
	ParcelChars cpParcel `xml:"parcel-characteristics"`
	Preferences cpPrefs  `xml:"preferences"`
}

type cpSender struct {
	Name           string        `xml:"name"`
	Company        string        `xml:"company"`
	ContactPhone   string        `xml:"contact-phone"`
	AddressDetails cpAddrDetails `xml:"address-details"`
}

type cpDest struct {
	Name           string        `xml:"name"`
	Company        string        `xml:"company,omitempty"`
	AddressDetails cpAddrDetails `xml:"address-details"`
}

type cpAddrDetails struct {
	AddressLine1 string `xml:"address-line-1"`
	AddressLine2 string `xml:"address-line-2,omitempty"`
	City         string `xml:"city"`
	Province     string `xml:"prov-state,omitempty"`
	CountryCode  string `xml:"country-code"`
	PostalCode   string `xml:"postal-zip-code"`
}

type cpParcel struct {
	Weight     float64 `xml:"weight"`
	Dimensions struct {
		Length float64 `xml:"length"`
		Width  float64 `xml:"width"`
		Height float64 `xml:"height"`
	} `xml:"dimensions"`
}

type cpPrefs struct {
	ShowPackingInstructions bool `xml:"show-packing-instructions"`
}

type cpShipmentInfo struct {
	XMLName     xml.Name `xml:"non-contract-shipment-info"`
	ShipmentID  string   `xml:"shipment-id"`
	TrackingPin string   `xml:"tracking-pin"`
	Links       struct {
		Link []struct {
			Rel  string `xml:"rel,attr"`
			Href string `xml:"href,attr"`
		} `xml:"link"`
	} `xml:"links"`
}

// CreateShipment creates a non-contract shipment and returns the tracking
// PIN plus the label document link
func (c *CanadaPostCarrier) CreateShipment(ctx context.Context, req ShipmentRequest) (*ShipmentResult, error) {
	shipment := cpShipment{
		Xmlns: "http://www.canadapost.ca/ws/ncshipment-v4",
		DeliverySpec: cpDeliverySpec{
			ServiceCode: req.ServiceCode,
			Sender: cpSender{
				Name:         req.ShipFrom.Name,
				Company:      orDefault(req.ShipFrom.Company, req.ShipFrom.Name),
				ContactPhone: req.ShipFrom.Phone,
				AddressDetails: cpAddrDetails{
					AddressLine1: req.ShipFrom.Street,
					AddressLine2: req.ShipFrom.Street2,
					City:         req.ShipFrom.City,
					Province:     req.ShipFrom.State,
					CountryCode:  strings.ToUpper(orDefault(req.ShipFrom.Country, "CA")),
					PostalCode:   normalizePostal(req.ShipFrom.PostalCode),
				},
			},
			Destination: cpDest{
				Name:    req.ShipTo.Name,
				Company: req.ShipTo.Company,
				AddressDetails: cpAddrDetails{
					AddressLine1: req.ShipTo.Street,
					AddressLine2: req.ShipTo.Street2,
					City:         req.ShipTo.City,
					Province:     req.ShipTo.State,
					CountryCode:  strings.ToUpper(orDefault(req.ShipTo.Country, "CA")),
					PostalCode:   normalizePostal(req.ShipTo.PostalCode),
				},
			},
		},
	}
	shipment.DeliverySpec.ParcelChars.Weight = round2(req.Package.Weight * lbsToKg)
	shipment.DeliverySpec.ParcelChars.Dimensions.Length = round2(req.Package.Length * inchToCm)
	shipment.DeliverySpec.ParcelChars.Dimensions.Width = round2(req.Package.Width * inchToCm)
	shipment.DeliverySpec.ParcelChars.Dimensions.Height = round2(req.Package.Height * inchToCm)

	body, err := xml.Marshal(shipment)
	if err != nil {
		return nil, err
	}

	var info cpShipmentInfo
	path := fmt.Sprintf("/rs/%s/ncshipment", c.customerNumber)
	if err := c.doXML(ctx, http.MethodPost, path,
		"application/vnd.cpc.ncshipment-v4+xml", body, &info); err != nil {
		return nil, err
	}

	if info.TrackingPin == "" {
		return nil, ErrNoTracking
	}

	labelURL := ""
	for _, link := range info.Links.Link {
		if link.Rel == "label" {
			labelURL = link.Href
			break
		}
	}

	return &ShipmentResult{
		TrackingNumber:    info.TrackingPin,
		CarrierShipmentID: info.ShipmentID,
		LabelURL:          labelURL,
		Currency:          "CAD",
	}, nil
}

func orDefault(v, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}

// GetTracking fetches tracking details for a tracking PIN
func (c *CanadaPostCarrier) GetTracking(ctx context.Context, trackingNumber string) (*TrackingInfo, error) {
	var details struct {
		XMLName xml.Name `xml:"tracking-detail"`
		Events  struct {
			Occurrence []struct {
				Identifier  string `xml:"event-identifier"`
				Description string `xml:"event-description"`
				Site        string `xml:"event-site"`
				Date        string `xml:"event-date"`
				Time        string `xml:"event-time"`
			} `xml:"occurrence"`
		} `xml:"significant-events"`
	}
	path := "/vis/track/pin/" + trackingNumber + "/detail"
	if err := c.doXML(ctx, http.MethodGet, path,
		"application/vnd.cpc.track+xml", nil, &details); err != nil {
		return nil, err
	}

	info := &TrackingInfo{TrackingNumber: trackingNumber, Status: "unknown"}
	for _, ev := range details.Events.Occurrence {
		info.Events = append(info.Events, TrackingEvent{
			Status:      ev.Identifier,
			Description: ev.Description,
			Location:    ev.Site,
			Timestamp:   ev.Date + " " + ev.Time,
		})
	}
	if len(info.Events) > 0 {
		info.Status = info.Events[0].Description
		// event 1408 is "Item successfully delivered"
		info.Delivered = info.Events[0].Status == "1408"
	}
	return info, nil
}

// ListServices returns the services available to this account
func (c *CanadaPostCarrier) ListServices(ctx context.Context) ([]ServiceInfo, error) {
	var services cpServicesResponse
	if err := c.doXML(ctx, http.MethodGet, "/rs/ship/service",
		"application/vnd.cpc.ship.rate-v4+xml", nil, &services); err != nil {
		return nil, err
	}

	out := make([]ServiceInfo, 0, len(services.Service))
	for _, s := range services.Service {
		serviceType, ok := canadaPostServiceTypes[s.ServiceCode]
		if !ok {
			serviceType = models.ServiceTypeOther
		}
		out = append(out, ServiceInfo{Code: s.ServiceCode, Name: s.ServiceName, Type: serviceType})
	}
	return out, nil
}
