package listing

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/uzadolat/courtharvest/internal/harvest"
)

// pagedEnvelope is the common paged response shape once any wrapping has
// been peeled off.
type pagedEnvelope struct {
	Content       []json.RawMessage `json:"content"`
	TotalPages    int               `json:"totalPages"`
	TotalElements int64             `json:"totalElements"`
}

// newDecision is one entry of the post-2024 API.
type newDecision struct {
	ID               string             `json:"id"`
	CaseNumber       string             `json:"case_number"`
	CourtNames       map[string]string  `json:"court_names"`
	ResponsibleJudge string             `json:"responsible_judge_name"`
	SpeakerJudge     string             `json:"speaker_judge_name"`
	HearingDate      string             `json:"hearing_date"`
	Result           string             `json:"result"`
	Instance         string             `json:"instance"`
	Categories       []harvest.Category `json:"categories"`
	PDF              struct {
		ID   string `json:"id"`
		Name string `json:"name"`
		Size int64  `json:"size"`
	} `json:"pdf"`
}

// flexString tolerates the old API emitting ids as either numbers or
// strings.
type flexString string

// UnmarshalJSON implements json.Unmarshaler.
func (f *flexString) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*f = flexString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*f = flexString(n.String())
	return nil
}

// oldDecision is one entry of the pre-2024 API.
type oldDecision struct {
	ID          flexString      `json:"id"`
	CaseNumber  string          `json:"caseNumber"`
	DBName      string          `json:"dbName"`
	Judge       string          `json:"judge"`
	HearingDate json.RawMessage `json:"hearingDate"`
	Result      string          `json:"result"`
	Category    string          `json:"category"`
	Attachments []struct {
		FileData struct {
			ID   flexString `json:"id"`
			Name string     `json:"name"`
			Size int64      `json:"size"`
		} `json:"fileData"`
	} `json:"attachmentsList"`
}

// parsePage decodes a raw listing response into a Page using the section's
// dialect.
func parsePage(section harvest.Section, index int, body []byte) (harvest.Page, error) {
	var env pagedEnvelope
	var err error
	switch section.Kind {
	case harvest.SectionKindOld:
		env, err = unwrapOldEnvelope(body)
	default:
		err = json.Unmarshal(body, &env)
	}
	if err != nil {
		return harvest.Page{}, fmt.Errorf("decode listing response: %w", err)
	}

	page := harvest.Page{
		Section:       section.Tag,
		Index:         index,
		TotalPages:    env.TotalPages,
		TotalElements: env.TotalElements,
	}
	for _, raw := range env.Content {
		var d harvest.Decision
		var perr error
		if section.Kind == harvest.SectionKindOld {
			var ok bool
			d, ok, perr = parseOldDecision(section, raw)
			if perr == nil && !ok {
				// Records with no attachment carry nothing to harvest.
				continue
			}
		} else {
			d, perr = parseNewDecision(section, raw)
		}
		if perr != nil {
			return harvest.Page{}, perr
		}
		page.Decisions = append(page.Decisions, d)
	}
	return page, nil
}

// unwrapOldEnvelope peels the old API's data field, which is sometimes an
// object and sometimes a JSON-encoded string of that object.
func unwrapOldEnvelope(body []byte) (pagedEnvelope, error) {
	var outer struct {
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(body, &outer); err != nil {
		return pagedEnvelope{}, err
	}
	inner := body
	if len(outer.Data) > 0 && string(outer.Data) != "null" {
		inner = outer.Data
		var nested string
		if err := json.Unmarshal(outer.Data, &nested); err == nil {
			inner = []byte(nested)
		}
	}
	var env pagedEnvelope
	if err := json.Unmarshal(inner, &env); err != nil {
		return pagedEnvelope{}, err
	}
	return env, nil
}

func parseNewDecision(section harvest.Section, raw json.RawMessage) (harvest.Decision, error) {
	var nd newDecision
	if err := json.Unmarshal(raw, &nd); err != nil {
		return harvest.Decision{}, fmt.Errorf("decode decision: %w", err)
	}
	if nd.ID == "" || nd.PDF.ID == "" {
		return harvest.Decision{}, fmt.Errorf("decision missing id or pdf id")
	}
	return harvest.Decision{
		ID:               nd.ID,
		CaseNumber:       nd.CaseNumber,
		CourtNameUz:      nd.CourtNames["uz"],
		CourtNameRu:      nd.CourtNames["ru"],
		ResponsibleJudge: nd.ResponsibleJudge,
		SpeakerJudge:     nd.SpeakerJudge,
		HearingDate:      nd.HearingDate,
		Result:           nd.Result,
		Instance:         nd.Instance,
		Categories:       nd.Categories,
		PDFID:            nd.PDF.ID,
		PDFName:          nd.PDF.Name,
		PDFSize:          nd.PDF.Size,
		PDFURL:           section.BaseURL + "/public/onStream/" + nd.PDF.ID,
	}, nil
}

// parseOldDecision returns ok=false for records without a downloadable
// attachment; those are skipped rather than treated as errors.
func parseOldDecision(section harvest.Section, raw json.RawMessage) (harvest.Decision, bool, error) {
	var od oldDecision
	if err := json.Unmarshal(raw, &od); err != nil {
		return harvest.Decision{}, false, fmt.Errorf("decode decision: %w", err)
	}
	if len(od.Attachments) == 0 {
		return harvest.Decision{}, false, nil
	}
	file := od.Attachments[0].FileData

	var categories []harvest.Category
	if od.Category != "" {
		categories = []harvest.Category{{"uz": od.Category}}
	}

	return harvest.Decision{
		ID:               string(od.ID),
		CaseNumber:       od.CaseNumber,
		CourtNameUz:      od.DBName,
		CourtNameRu:      od.DBName,
		ResponsibleJudge: od.Judge,
		HearingDate:      hearingDateFromRaw(od.HearingDate),
		Result:           od.Result,
		Instance:         "FIRST",
		Categories:       categories,
		PDFID:            string(file.ID),
		PDFName:          file.Name,
		PDFSize:          file.Size,
		PDFURL:           section.BaseURL + "/api/file/download/" + string(file.ID) + "/",
	}, true, nil
}

// hearingDateFromRaw converts the old API's millisecond epoch to RFC 3339.
// String dates pass through unchanged.
func hearingDateFromRaw(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var ms int64
	if err := json.Unmarshal(raw, &ms); err == nil {
		return time.UnixMilli(ms).UTC().Format(time.RFC3339)
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return ""
}
