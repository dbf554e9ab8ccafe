// Package harvest defines core types shared across the pipeline subsystems.
package harvest

import "time"

// SectionKind selects the listing API dialect a section speaks.
type SectionKind string

// Listing API dialects. The post-2024 API returns a plain paged envelope,
// the pre-2024 API wraps its payload in a "data" field that is sometimes a
// JSON-encoded string.
const (
	SectionKindNew SectionKind = "new"
	SectionKindOld SectionKind = "old"
)

// Section describes one independently enumerable partition of the corpus.
type Section struct {
	Tag      string      `json:"tag" mapstructure:"tag"`
	Kind     SectionKind `json:"kind" mapstructure:"kind"`
	BaseURL  string      `json:"base_url" mapstructure:"base_url"`
	ListPath string      `json:"list_path" mapstructure:"list_path"`
	// CourtType is passed through as the court_type query parameter.
	CourtType string `json:"court_type" mapstructure:"court_type"`
}

// Category is a language-keyed case category label.
type Category map[string]string

// Decision is the record descriptor for one published court decision,
// plus the processing fields persisted alongside it in page metadata.
// Descriptor fields are immutable once parsed from a listing page.
type Decision struct {
	ID               string     `json:"id"`
	CaseNumber       string     `json:"case_number"`
	CourtNameUz      string     `json:"court_name_uz"`
	CourtNameRu      string     `json:"court_name_ru"`
	ResponsibleJudge string     `json:"responsible_judge,omitempty"`
	SpeakerJudge     string     `json:"speaker_judge,omitempty"`
	HearingDate      string     `json:"hearing_date"`
	Result           string     `json:"result"`
	Instance         string     `json:"instance"`
	Categories       []Category `json:"categories"`
	PDFID            string     `json:"pdf_id"`
	PDFName          string     `json:"pdf_name"`
	PDFSize          int64      `json:"pdf_size"`
	PDFURL           string     `json:"pdf_url"`

	// Filled in from the record's Outcome before the page is committed.
	TextFilePath          string `json:"text_file_path,omitempty"`
	TextFileRelativePath  string `json:"text_file_relative_path,omitempty"`
	TextExtractionSuccess bool   `json:"text_extraction_success"`
	FailureReason         string `json:"failure_reason,omitempty"`
}

// Page is one unit of listing enumeration for a section.
type Page struct {
	Section       string     `json:"section"`
	Index         int        `json:"index"`
	Decisions     []Decision `json:"decisions"`
	TotalPages    int        `json:"total_pages"`
	TotalElements int64      `json:"total_elements"`
	FetchedAt     time.Time  `json:"fetched_at"`
}

// Empty reports whether the page carries no records, which signals the end
// of a section when no explicit end page was configured.
func (p Page) Empty() bool { return len(p.Decisions) == 0 }

// Outcome is the terminal result of processing one record. Every failure
// path inside the processor resolves to one of these; nothing escapes as a
// raised error.
type Outcome struct {
	DecisionID        string    `json:"decision_id"`
	CaseNumber        string    `json:"case_number"`
	Success           bool      `json:"success"`
	FailureReason     string    `json:"failure_reason,omitempty"`
	ExtractionSuccess bool      `json:"extraction_success"`
	TextPath          string    `json:"text_path,omitempty"`
	TextRelPath       string    `json:"text_rel_path,omitempty"`
	StartedAt         time.Time `json:"started_at"`
	FinishedAt        time.Time `json:"finished_at"`
}

// Failure reasons recorded on Outcome.FailureReason.
const (
	ReasonFetchFailed   = "fetch_failed"
	ReasonPersistFailed = "persist_failed"
)

// RunParams is the pipeline entry contract for one harvest invocation.
type RunParams struct {
	Sections          []string
	StartPage         int
	EndPage           int // EndPageUnbounded means run until an empty page
	DownloadArtifacts bool
	MaxWorkers        int
	Overwrite         bool
}

// EndPageUnbounded marks an open-ended page range.
const EndPageUnbounded = -1

// PageRef identifies one page of one section, used to report gaps.
type PageRef struct {
	Section string `json:"section"`
	Index   int    `json:"index"`
}

// RunSummary is the structured end-of-run report.
type RunSummary struct {
	RunID              string    `json:"run_id"`
	Sections           []string  `json:"sections"`
	PagesAttempted     int       `json:"pages_attempted"`
	PagesCompleted     int       `json:"pages_completed"`
	PagesSkipped       int       `json:"pages_skipped"`
	FailedPages        []PageRef `json:"failed_pages,omitempty"`
	RecordsSucceeded   int       `json:"records_succeeded"`
	RecordsFailed      int       `json:"records_failed"`
	TextsExtracted     int       `json:"texts_extracted"`
	ExtractionFailures int       `json:"extraction_failures"`
	StartedAt          time.Time `json:"started_at"`
	FinishedAt         time.Time `json:"finished_at"`
}

// Merge folds another summary into s, keeping the earliest start and the
// latest finish.
func (s *RunSummary) Merge(other RunSummary) {
	s.PagesAttempted += other.PagesAttempted
	s.PagesCompleted += other.PagesCompleted
	s.PagesSkipped += other.PagesSkipped
	s.FailedPages = append(s.FailedPages, other.FailedPages...)
	s.RecordsSucceeded += other.RecordsSucceeded
	s.RecordsFailed += other.RecordsFailed
	s.TextsExtracted += other.TextsExtracted
	s.ExtractionFailures += other.ExtractionFailures
	if s.StartedAt.IsZero() || (!other.StartedAt.IsZero() && other.StartedAt.Before(s.StartedAt)) {
		s.StartedAt = other.StartedAt
	}
	if other.FinishedAt.After(s.FinishedAt) {
		s.FinishedAt = other.FinishedAt
	}
}

// Manifest is the aggregated corpus index built from committed page metadata.
type Manifest struct {
	GeneratedAt time.Time  `json:"generated_at"`
	Sections    []string   `json:"sections"`
	Pages       int        `json:"pages"`
	Decisions   []Decision `json:"decisions"`
}
