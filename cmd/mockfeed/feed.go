package main

import (
	"encoding/json"
	"encoding/xml"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"
)

var (
	categories = []string{"Wallet", "Phone", "Bag", "Umbrella", "Jewellery", "Documents", "Electronics"}
	places     = []string{"Central Station", "Bus 401", "City Hall", "Airport Terminal 2", "Riverside Park"}
	colors     = []string{"Black", "Blue", "Red", "Silver", ""}
)

// mockFeed serves deterministic pages shaped like the upstream lost and found feed
type mockFeed struct {
	total      int
	serviceKey string
	kind       string
	today      func() time.Time
}

type mockHeader struct {
	ResultCode string `xml:"resultCode" json:"resultCode"`
	ResultMsg  string `xml:"resultMsg" json:"resultMsg"`
}

type mockItem struct {
	AtcID     string
	Serial    string
	Name      string
	Category  string
	Place     string
	Date      string
	ImagePath string
	Color     string
	Rnum      int
}

// wire renders the kind specific element names
func (it mockItem) wire(kind string) map[string]interface{} {
	m := map[string]interface{}{
		"atcId":    it.AtcID,
		"prdtClNm": it.Category,
		"rnum":     it.Rnum,
	}
	if it.Color != "" {
		m["clrNm"] = it.Color
	}
	if kind == "found" {
		m["fdSn"] = it.Serial
		m["fdPrdtNm"] = it.Name
		m["depPlace"] = it.Place
		m["fdYmd"] = it.Date
		m["fdFilePathImg"] = it.ImagePath
		return m
	}
	m["lstGoodsSn"] = it.Serial
	m["lstPrdtNm"] = it.Name
	m["lstPlace"] = it.Place
	m["lstYmd"] = it.Date
	return m
}

// item builds record n (0-based). A few records are malformed on purpose.
func (f *mockFeed) item(n int) mockItem {
	prefix := "L"
	if f.kind == "found" {
		prefix = "F"
	}
	day := f.today().AddDate(0, 0, -(n % 7))

	it := mockItem{
		AtcID:    fmt.Sprintf("%s%s%06d", prefix, day.Format("2006"), n+1),
		Serial:   strconv.Itoa(n%3 + 1),
		Name:     fmt.Sprintf("%s #%d", categories[n%len(categories)], n+1),
		Category: categories[n%len(categories)],
		Place:    places[n%len(places)],
		Date:     day.Format("20060102"),
		Color:    colors[n%len(colors)],
		Rnum:     n + 1,
	}
	if f.kind == "found" {
		it.ImagePath = "/img/no_img.gif"
	}

	switch {
	case n%17 == 16:
		it.Place = ""
	case n%23 == 22:
		it.Date = day.Format("2006.01")
	case n%29 == 28:
		it.Date = "unknown"
	case n%31 == 30:
		it.AtcID = ""
	}
	return it
}

func (f *mockFeed) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	asJSON := q.Get("_type") == "json"

	if f.serviceKey != "" && q.Get("serviceKey") != f.serviceKey {
		log.Warn().Str("kind", f.kind).Msg("Rejected request with invalid service key")
		w.Header().Set("Content-Type", "application/xml")
		fmt.Fprint(w, `<OpenAPI_ServiceResponse><cmmMsgHeader><errMsg>SERVICE ERROR</errMsg>`+
			`<returnAuthMsg>SERVICE_KEY_IS_NOT_REGISTERED_ERROR</returnAuthMsg>`+
			`<returnReasonCode>30</returnReasonCode></cmmMsgHeader></OpenAPI_ServiceResponse>`)
		return
	}

	pageNo := atoiDefault(q.Get("pageNo"), 1)
	rows := atoiDefault(q.Get("numOfRows"), 10)

	items := []map[string]interface{}{}
	for n := (pageNo - 1) * rows; n < pageNo*rows && n < f.total; n++ {
		items = append(items, f.item(n).wire(f.kind))
	}

	log.Info().
		Str("kind", f.kind).
		Int("page", pageNo).
		Int("rows", rows).
		Int("items", len(items)).
		Bool("json", asJSON).
		Msg("Served mock page")

	header := mockHeader{ResultCode: "00", ResultMsg: "NORMAL SERVICE."}
	if asJSON {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"response": map[string]interface{}{
				"header": header,
				"body": map[string]interface{}{
					"items":      map[string]interface{}{"item": items},
					"numOfRows":  rows,
					"pageNo":     pageNo,
					"totalCount": f.total,
				},
			},
		})
		return
	}

	w.Header().Set("Content-Type", "application/xml")
	fmt.Fprint(w, xml.Header)
	fmt.Fprintf(w, "<response><header><resultCode>%s</resultCode><resultMsg>%s</resultMsg></header><body><items>",
		header.ResultCode, header.ResultMsg)
	for _, it := range items {
		fmt.Fprint(w, "<item>")
		for k, v := range it {
			fmt.Fprintf(w, "<%s>", k)
			xml.EscapeText(w, []byte(fmt.Sprint(v)))
			fmt.Fprintf(w, "</%s>", k)
		}
		fmt.Fprint(w, "</item>")
	}
	fmt.Fprintf(w, "</items><numOfRows>%d</numOfRows><pageNo>%d</pageNo><totalCount>%d</totalCount></body></response>",
		rows, pageNo, f.total)
}

func atoiDefault(s string, def int) int {
	n, err := strconv.Atoi(s)
	if err != nil || n < 1 {
		return def
	}
	return n
}
