package fetcher

import (
	"fmt"
	"net/textproto"
	"strconv"
	"strings"
	"time"

	"github.com/emersion/go-imap"
	apperrors "github.com/welldanyogia/mailarchive/internal/errors"
)

// Kind names a fetch criterion
type Kind string

const (
	KindAll        Kind = "ALL"
	KindRecent     Kind = "RECENT"
	KindNew        Kind = "NEW"
	KindOld        Kind = "OLD"
	KindSeen       Kind = "SEEN"
	KindUnseen     Kind = "UNSEEN"
	KindFlagged    Kind = "FLAGGED"
	KindAnswered   Kind = "ANSWERED"
	KindUnanswered Kind = "UNANSWERED"
	KindDraft      Kind = "DRAFT"
	KindUndraft    Kind = "UNDRAFT"
	KindDeleted    Kind = "DELETED"
	KindUndeleted  Kind = "UNDELETED"

	KindDaily    Kind = "DAILY"
	KindWeekly   Kind = "WEEKLY"
	KindMonthly  Kind = "MONTHLY"
	KindAnnually Kind = "ANNUALLY"

	KindSince     Kind = "SINCE"
	KindSentSince Kind = "SENTSINCE"
	KindBefore    Kind = "BEFORE"
	KindRange     Kind = "RANGE"

	KindLarger  Kind = "LARGER"
	KindSmaller Kind = "SMALLER"
	KindSubject Kind = "SUBJECT"
	KindFrom    Kind = "FROM"
	KindBody    Kind = "BODY"
)

// imapDate is the RFC 3501 date format
const imapDate = "02-Jan-2006"

var flagKinds = map[Kind]struct{ with, without []string }{
	KindAll:        {},
	KindRecent:     {with: []string{imap.RecentFlag}},
	KindNew:        {with: []string{imap.RecentFlag}, without: []string{imap.SeenFlag}},
	KindOld:        {without: []string{imap.RecentFlag}},
	KindSeen:       {with: []string{imap.SeenFlag}},
	KindUnseen:     {without: []string{imap.SeenFlag}},
	KindFlagged:    {with: []string{imap.FlaggedFlag}},
	KindAnswered:   {with: []string{imap.AnsweredFlag}},
	KindUnanswered: {without: []string{imap.AnsweredFlag}},
	KindDraft:      {with: []string{imap.DraftFlag}},
	KindUndraft:    {without: []string{imap.DraftFlag}},
	KindDeleted:    {with: []string{imap.DeletedFlag}},
	KindUndeleted:  {without: []string{imap.DeletedFlag}},
}

var relativeKinds = map[Kind]time.Duration{
	KindDaily:    24 * time.Hour,
	KindWeekly:   7 * 24 * time.Hour,
	KindMonthly:  4 * 7 * 24 * time.Hour,
	KindAnnually: 52 * 7 * 24 * time.Hour,
}

// Criterion selects the messages a Search returns
type Criterion struct {
	Kind   Kind
	Since  time.Time
	Before time.Time
	Size   uint32
	Text   string
}

// All matches every message
var All = Criterion{Kind: KindAll}

// ParseCriterion reads criteria such as "RECENT", "SINCE 2024-01-31",
// "SENTSINCE 31-Jan-2024", "SINCE 2024-01-01 BEFORE 2024-02-01",
// "LARGER 1048576" or "SUBJECT invoice".
func ParseCriterion(s string) (Criterion, error) {
	fields := strings.Fields(s)
	if len(fields) == 0 {
		return All, nil
	}
	kind := Kind(strings.ToUpper(fields[0]))
	args := fields[1:]

	if _, ok := flagKinds[kind]; ok {
		if len(args) != 0 {
			return Criterion{}, unsupported(s, "takes no argument")
		}
		return Criterion{Kind: kind}, nil
	}
	if _, ok := relativeKinds[kind]; ok {
		if len(args) != 0 {
			return Criterion{}, unsupported(s, "takes no argument")
		}
		return Criterion{Kind: kind}, nil
	}

	switch kind {
	case KindSince, KindSentSince, KindBefore:
		if len(args) == 3 && kind != KindBefore && strings.EqualFold(args[1], string(KindBefore)) {
			since, err := parseDate(args[0])
			if err != nil {
				return Criterion{}, unsupported(s, err.Error())
			}
			before, err := parseDate(args[2])
			if err != nil {
				return Criterion{}, unsupported(s, err.Error())
			}
			if !before.After(since) {
				return Criterion{}, unsupported(s, "empty date range")
			}
			return Criterion{Kind: KindRange, Since: since, Before: before}, nil
		}
		if len(args) != 1 {
			return Criterion{}, unsupported(s, "expects one date")
		}
		date, err := parseDate(args[0])
		if err != nil {
			return Criterion{}, unsupported(s, err.Error())
		}
		if kind == KindBefore {
			return Criterion{Kind: kind, Before: date}, nil
		}
		return Criterion{Kind: kind, Since: date}, nil

	case KindLarger, KindSmaller:
		if len(args) != 1 {
			return Criterion{}, unsupported(s, "expects one size")
		}
		size, err := strconv.ParseUint(args[0], 10, 32)
		if err != nil {
			return Criterion{}, unsupported(s, "size must be a non-negative integer")
		}
		return Criterion{Kind: kind, Size: uint32(size)}, nil

	case KindSubject, KindFrom, KindBody:
		if len(args) == 0 {
			return Criterion{}, unsupported(s, "expects a search text")
		}
		text := strings.TrimSpace(strings.TrimSpace(s)[len(fields[0]):])
		return Criterion{Kind: kind, Text: strings.Trim(text, `"`)}, nil
	}

	return Criterion{}, unsupported(s, "unknown criterion")
}

func unsupported(s, reason string) error {
	return fmt.Errorf("%w: %q: %s", apperrors.ErrUnsupportedCriterion, s, reason)
}

func parseDate(s string) (time.Time, error) {
	for _, layout := range []string{time.DateOnly, imapDate} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("date %q is neither YYYY-MM-DD nor DD-Mon-YYYY", s)
}

// String renders the criterion in the form ParseCriterion reads
func (c Criterion) String() string {
	switch c.Kind {
	case KindSince, KindSentSince:
		return fmt.Sprintf("%s %s", c.Kind, c.Since.Format(time.DateOnly))
	case KindBefore:
		return fmt.Sprintf("%s %s", c.Kind, c.Before.Format(time.DateOnly))
	case KindRange:
		return fmt.Sprintf("SINCE %s BEFORE %s", c.Since.Format(time.DateOnly), c.Before.Format(time.DateOnly))
	case KindLarger, KindSmaller:
		return fmt.Sprintf("%s %d", c.Kind, c.Size)
	case KindSubject, KindFrom, KindBody:
		return fmt.Sprintf("%s %s", c.Kind, c.Text)
	case "":
		return string(KindAll)
	}
	return string(c.Kind)
}

// IsFlag reports whether the criterion only looks at message flags
func (c Criterion) IsFlag() bool {
	_, ok := flagKinds[c.Kind]
	return ok || c.Kind == ""
}

// window resolves the date bounds of the criterion. Relative criteria count
// back from now and are truncated to whole days like IMAP dates.
func (c Criterion) window(now time.Time) (since, before time.Time) {
	if d, ok := relativeKinds[c.Kind]; ok {
		start := now.UTC().Add(-d)
		return time.Date(start.Year(), start.Month(), start.Day(), 0, 0, 0, 0, time.UTC), time.Time{}
	}
	return c.Since, c.Before
}

// SearchCriteria translates the criterion into an IMAP SEARCH
func (c Criterion) SearchCriteria(now time.Time) *imap.SearchCriteria {
	sc := imap.NewSearchCriteria()

	if flags, ok := flagKinds[c.Kind]; ok {
		sc.WithFlags = flags.with
		sc.WithoutFlags = flags.without
		return sc
	}

	since, before := c.window(now)
	switch c.Kind {
	case KindSince:
		sc.Since = since
	case KindSentSince, KindDaily, KindWeekly, KindMonthly, KindAnnually:
		sc.SentSince = since
	case KindBefore:
		sc.Before = before
	case KindRange:
		sc.Since = since
		sc.Before = before
	case KindLarger:
		sc.Larger = c.Size
	case KindSmaller:
		sc.Smaller = c.Size
	case KindSubject, KindFrom:
		sc.Header = textproto.MIMEHeader{}
		sc.Header.Add(headerFor(c.Kind), c.Text)
	case KindBody:
		sc.Body = []string{c.Text}
	}
	return sc
}

func headerFor(k Kind) string {
	if k == KindFrom {
		return "From"
	}
	return "Subject"
}

// messageInfo is what a POP3 maildrop reveals about a message without
// downloading it
type messageInfo struct {
	Size    uint32
	Date    time.Time
	HasDate bool
	Header  func(key string) string
}

// needsHeaders reports whether matching requires a TOP request
func (c Criterion) needsHeaders() bool {
	switch c.Kind {
	case KindSince, KindSentSince, KindBefore, KindRange,
		KindDaily, KindWeekly, KindMonthly, KindAnnually,
		KindSubject, KindFrom:
		return true
	}
	return false
}

// matches evaluates the criterion locally. Flag criteria match everything
// since a maildrop has no flags; a message without a readable date matches
// every date criterion. Body searches never match locally.
func (c Criterion) matches(info messageInfo, now time.Time) bool {
	if c.IsFlag() {
		return true
	}

	switch c.Kind {
	case KindLarger:
		return info.Size > c.Size
	case KindSmaller:
		return info.Size < c.Size
	case KindSubject, KindFrom:
		if info.Header == nil {
			return false
		}
		return strings.Contains(strings.ToLower(info.Header(headerFor(c.Kind))), strings.ToLower(c.Text))
	case KindBody:
		return false
	}

	if !info.HasDate {
		return true
	}
	since, before := c.window(now)
	day := time.Date(info.Date.Year(), info.Date.Month(), info.Date.Day(), 0, 0, 0, 0, time.UTC)
	if !since.IsZero() && day.Before(since) {
		return false
	}
	if !before.IsZero() && !day.Before(before) {
		return false
	}
	return true
}
