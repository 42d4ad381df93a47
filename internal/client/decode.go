package client

import (
	"bytes"
	"encoding/json"
	"encoding/xml"
	"fmt"
	"strconv"
	"strings"

	"github.com/hacknation/odnalezione-zguby/findit-ingest/internal/models"
	"golang.org/x/net/html/charset"
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// payloadFormat is the detected encoding of a feed response
type payloadFormat int

const (
	formatEmpty payloadFormat = iota
	formatJSON
	formatXML
)

// sniffFormat strips a UTF-8 byte order mark and picks a decoder from the
// first significant character
func sniffFormat(body []byte) (payloadFormat, []byte) {
	body = bytes.TrimPrefix(body, utf8BOM)
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return formatEmpty, trimmed
	}
	switch trimmed[0] {
	case '{', '[':
		return formatJSON, trimmed
	default:
		return formatXML, trimmed
	}
}

// decodePage turns a raw response body into a FeedPage. It never fails: any
// problem is reported through FeedPage.Detail with an empty item list.
func decodePage(kind models.Kind, body []byte) *models.FeedPage {
	format, payload := sniffFormat(body)

	var (
		page *models.FeedPage
		err  error
	)
	switch format {
	case formatEmpty:
		return emptyPage("", "empty response body")
	case formatJSON:
		page, err = decodeJSON(kind, payload)
	default:
		page, err = decodeXML(kind, payload)
	}
	if err != nil {
		return emptyPage("", err.Error())
	}

	if !page.Success() {
		page.Items = []models.RawFeedRecord{}
		page.Detail = fmt.Sprintf("upstream result code %q: %s", page.ResultCode, page.ResultMsg)
	}
	return page
}

func emptyPage(code, detail string) *models.FeedPage {
	return &models.FeedPage{
		Items:      []models.RawFeedRecord{},
		ResultCode: code,
		Detail:     detail,
	}
}

// wireItem carries every field either record kind may send, in both encodings
type wireItem struct {
	AtcID         flexString `xml:"atcId" json:"atcId"`
	LstGoodsSn    flexString `xml:"lstGoodsSn" json:"lstGoodsSn"`
	FdSn          flexString `xml:"fdSn" json:"fdSn"`
	LstPrdtNm     flexString `xml:"lstPrdtNm" json:"lstPrdtNm"`
	FdPrdtNm      flexString `xml:"fdPrdtNm" json:"fdPrdtNm"`
	PrdtClNm      flexString `xml:"prdtClNm" json:"prdtClNm"`
	LstPlace      flexString `xml:"lstPlace" json:"lstPlace"`
	FdPlace       flexString `xml:"fdPlace" json:"fdPlace"`
	DepPlace      flexString `xml:"depPlace" json:"depPlace"`
	LstYmd        flexString `xml:"lstYmd" json:"lstYmd"`
	FdYmd         flexString `xml:"fdYmd" json:"fdYmd"`
	LstSbjt       flexString `xml:"lstSbjt" json:"lstSbjt"`
	FdSbjt        flexString `xml:"fdSbjt" json:"fdSbjt"`
	FdFilePathImg flexString `xml:"fdFilePathImg" json:"fdFilePathImg"`
	ClrNm         flexString `xml:"clrNm" json:"clrNm"`
	Rnum          flexString `xml:"rnum" json:"rnum"`
}

func (w wireItem) toRaw(kind models.Kind) models.RawFeedRecord {
	raw := models.RawFeedRecord{
		AtcID:     string(w.AtcID),
		Category:  string(w.PrdtClNm),
		ImagePath: string(w.FdFilePathImg),
		Color:     string(w.ClrNm),
		RowNum:    string(w.Rnum),
	}
	if kind == models.KindFound {
		raw.SerialNo = string(w.FdSn)
		raw.Name = string(w.FdPrdtNm)
		raw.Place = string(w.DepPlace)
		if strings.TrimSpace(raw.Place) == "" {
			raw.Place = string(w.FdPlace)
		}
		raw.Date = string(w.FdYmd)
		raw.Subject = string(w.FdSbjt)
		return raw
	}
	raw.SerialNo = string(w.LstGoodsSn)
	raw.Name = string(w.LstPrdtNm)
	raw.Place = string(w.LstPlace)
	raw.Date = string(w.LstYmd)
	raw.Subject = string(w.LstSbjt)
	return raw
}

func toRawList(kind models.Kind, items []wireItem) []models.RawFeedRecord {
	out := make([]models.RawFeedRecord, 0, len(items))
	for _, it := range items {
		out = append(out, it.toRaw(kind))
	}
	return out
}

// XML

type xmlEnvelope struct {
	Header struct {
		ResultCode string `xml:"resultCode"`
		ResultMsg  string `xml:"resultMsg"`
	} `xml:"header"`
	// gateway-level failures (bad key, quota) use a different envelope
	CmmMsgHeader struct {
		ErrMsg           string `xml:"errMsg"`
		ReturnAuthMsg    string `xml:"returnAuthMsg"`
		ReturnReasonCode string `xml:"returnReasonCode"`
	} `xml:"cmmMsgHeader"`
	Body struct {
		Items      []wireItem `xml:"items>item"`
		NumOfRows  string     `xml:"numOfRows"`
		PageNo     string     `xml:"pageNo"`
		TotalCount string     `xml:"totalCount"`
	} `xml:"body"`
}

func decodeXML(kind models.Kind, payload []byte) (*models.FeedPage, error) {
	var env xmlEnvelope
	dec := xml.NewDecoder(bytes.NewReader(payload))
	// some regional gateways still declare EUC-KR
	dec.CharsetReader = charset.NewReaderLabel
	if err := dec.Decode(&env); err != nil {
		return nil, fmt.Errorf("failed to parse XML response: %w", err)
	}

	code := strings.TrimSpace(env.Header.ResultCode)
	msg := strings.TrimSpace(env.Header.ResultMsg)
	if code == "" && env.CmmMsgHeader.ReturnReasonCode != "" {
		code = strings.TrimSpace(env.CmmMsgHeader.ReturnReasonCode)
		msg = strings.TrimSpace(env.CmmMsgHeader.ReturnAuthMsg)
		if msg == "" {
			msg = strings.TrimSpace(env.CmmMsgHeader.ErrMsg)
		}
	}

	return &models.FeedPage{
		Items:      toRawList(kind, env.Body.Items),
		TotalCount: atoiLenient(env.Body.TotalCount),
		PageNo:     atoiLenient(env.Body.PageNo),
		NumOfRows:  atoiLenient(env.Body.NumOfRows),
		ResultCode: code,
		ResultMsg:  msg,
	}, nil
}

// JSON

type jsonHeader struct {
	ResultCode flexString `json:"resultCode"`
	ResultMsg  flexString `json:"resultMsg"`
}

type jsonBody struct {
	Items      json.RawMessage `json:"items"`
	NumOfRows  flexInt         `json:"numOfRows"`
	PageNo     flexInt         `json:"pageNo"`
	TotalCount flexInt         `json:"totalCount"`
}

type jsonResponse struct {
	Header *jsonHeader `json:"header"`
	Body   *jsonBody   `json:"body"`
}

// jsonEnvelope accepts both {"response":{...}} and a bare {"header":..,"body":..}
type jsonEnvelope struct {
	Response *jsonResponse `json:"response"`
	jsonResponse
}

func decodeJSON(kind models.Kind, payload []byte) (*models.FeedPage, error) {
	var env jsonEnvelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return nil, fmt.Errorf("failed to parse JSON response: %w", err)
	}

	resp := env.jsonResponse
	if env.Response != nil {
		resp = *env.Response
	}
	if resp.Header == nil {
		return nil, fmt.Errorf("JSON response has no header")
	}

	page := &models.FeedPage{
		Items:      []models.RawFeedRecord{},
		ResultCode: strings.TrimSpace(string(resp.Header.ResultCode)),
		ResultMsg:  strings.TrimSpace(string(resp.Header.ResultMsg)),
	}
	if resp.Body == nil {
		return page, nil
	}

	page.TotalCount = int(resp.Body.TotalCount)
	page.PageNo = int(resp.Body.PageNo)
	page.NumOfRows = int(resp.Body.NumOfRows)

	items, err := decodeJSONItems(resp.Body.Items)
	if err != nil {
		return nil, err
	}
	page.Items = toRawList(kind, items)
	return page, nil
}

// decodeJSONItems handles the shapes the feed uses for its item list:
// {"item":[...]}, {"item":{...}}, [...], "" and null.
func decodeJSONItems(raw json.RawMessage) ([]wireItem, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) || bytes.Equal(raw, []byte(`""`)) {
		return nil, nil
	}

	switch raw[0] {
	case '[':
		var items []wireItem
		if err := json.Unmarshal(raw, &items); err != nil {
			return nil, fmt.Errorf("failed to parse JSON item list: %w", err)
		}
		return items, nil
	case '{':
		var wrapper struct {
			Item json.RawMessage `json:"item"`
		}
		if err := json.Unmarshal(raw, &wrapper); err != nil {
			return nil, fmt.Errorf("failed to parse JSON items: %w", err)
		}
		inner := bytes.TrimSpace(wrapper.Item)
		if len(inner) == 0 || bytes.Equal(inner, []byte("null")) {
			return nil, nil
		}
		if inner[0] == '{' {
			var one wireItem
			if err := json.Unmarshal(inner, &one); err != nil {
				return nil, fmt.Errorf("failed to parse JSON item: %w", err)
			}
			return []wireItem{one}, nil
		}
		return decodeJSONItems(inner)
	}
	return nil, fmt.Errorf("unexpected JSON items value %s", truncate(string(raw), 40))
}

// flexString accepts JSON strings, numbers, booleans and null
type flexString string

func (f *flexString) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*f = ""
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*f = flexString(s)
		return nil
	}
	*f = flexString(data)
	return nil
}

// flexInt accepts JSON numbers and numeric strings; anything else decodes as 0
type flexInt int

func (f *flexInt) UnmarshalJSON(data []byte) error {
	var s flexString
	if err := s.UnmarshalJSON(data); err != nil {
		return err
	}
	*f = flexInt(atoiLenient(string(s)))
	return nil
}

func atoiLenient(s string) int {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0
	}
	return n
}
