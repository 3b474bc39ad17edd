package report

import (
	"fmt"
	"sort"
	"strings"

	"github.com/thoas/go-funk"
)

// MaxDetail is the largest number of errors of one kind that are enumerated
// in full. Above it a section collapses to one representative example plus a
// count.
const MaxDetail = 50

type Renderer struct {
	maxDetail int
}

func NewRenderer() *Renderer {
	return &Renderer{maxDetail: MaxDetail}
}

func NewRendererWithLimit(maxDetail int) *Renderer {
	return &Renderer{maxDetail: maxDetail}
}

// Render formats the accumulated errors into the report artifact: one section
// per kind, kinds in lexical order so the output is deterministic.
func (r *Renderer) Render(errs []Error) string {
	if len(errs) == 0 {
		return ""
	}

	byKind := map[Kind][]Error{}
	for _, e := range errs {
		byKind[e.Kind] = append(byKind[e.Kind], e)
	}
	kinds := funk.Keys(byKind).([]Kind)
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })

	var b strings.Builder
	for _, kind := range kinds {
		b.WriteString(r.section(kind, byKind[kind]))
	}
	return b.String()
}

func (r *Renderer) section(kind Kind, errs []Error) string {
	var b strings.Builder
	switch kind {
	case KindMismatchedAuthTerms:
		b.WriteString("\n-- Controlled authority IDs and labels don't match --\n")
		b.WriteString("The operation is set to raise an error when the provided URLs for controlled authority terms do not resolve to the provided labels.\n")
		r.writeRows(&b, errs)
	case KindUploadError:
		b.WriteString("\n-- Errors uploading files --\n")
		b.WriteString("The listed files could not be opened while the operation was being applied.\n")
		if r.enumerate(errs) {
			for _, e := range errs {
				fmt.Fprintf(&b, "Row %d, filename: %s\n", e.RowNumber, e.File)
			}
		} else {
			fmt.Fprintf(&b, "%d rows were affected. An example is row %d with file %s.\n", len(errs), errs[0].RowNumber, errs[0].File)
		}
	case KindNoWorkIDField:
		b.WriteString("\n-- Cannot find object id field in spreadsheet --\n")
		fmt.Fprintf(&b, "The object id could not be found for %d rows of the spreadsheet. Check the spreadsheet and try again.\n", len(errs))
	case KindJobFailure:
		b.WriteString("\n-- Jobs failed --\n")
		if r.enumerate(errs) {
			for _, e := range errs {
				fmt.Fprintf(&b, "Error operating on %s: %s\n", orNewObject(e.ObjectID), e.Message)
			}
		} else {
			fmt.Fprintf(&b, "%d jobs failed. An example: %s: %s\n", len(errs), orNewObject(errs[0].ObjectID), errs[0].Message)
		}
	case KindMissingRequiredOption:
		b.WriteString("\n-- Errors in configuration file --\nMissing required option(s): ")
		names := funk.Map(errs, func(e Error) string { return e.OptionName }).([]string)
		b.WriteString(strings.Join(names, ", ") + "\n")
	case KindInvalidConfigValue:
		b.WriteString("\n-- Errors in configuration file values --\n")
		for _, e := range errs {
			fmt.Fprintf(&b, "Unacceptable value for %s. Acceptable values include: %s\n", e.OptionName, e.OptionValues)
		}
	case KindCannotGetHeaders:
		b.WriteString("\n-- Error retrieving field headers --\n")
		b.WriteString("The column headers of the metadata spreadsheet could not be retrieved. Either the connection to the file store is failing, or the spreadsheet on this branch is not properly formatted.\n")
	case KindBadHeader:
		b.WriteString("\n-- Error interpreting column header(s) --\n")
		b.WriteString("The following headers did not match any schema field, relationship keyword, file keyword or option keyword:\n")
		fields := funk.Map(errs, func(e Error) string { return e.Field }).([]string)
		b.WriteString(strings.Join(fields, ", ") + "\n")
	case KindCannotRetrieveLabel:
		r.urlSection(&b, errs, "-- Errors retrieving remote labels --", "Error retrieving label for remote url")
	case KindCannotRetrieveURL:
		r.urlSection(&b, errs, "-- Errors retrieving remote URLs --", "Error retrieving URL for controlled vocabulary term")
	case KindBadObjectReference:
		b.WriteString("\n-- Error: bad object reference --\n")
		fmt.Fprintf(&b, "Encountered %d problems resolving object references.\n", len(errs))
		if r.enumerate(errs) {
			for _, e := range errs {
				fmt.Fprintf(&b, "row %d references the object %s\n", e.RowNumber, e.ObjectID)
			}
		} else {
			fmt.Fprintf(&b, "For example, row %d references an object identified by %s, which cannot be found.\n", errs[0].RowNumber, errs[0].ObjectID)
		}
	case KindCannotFindFile:
		b.WriteString("\n-- Missing file errors --\n")
		fmt.Fprintf(&b, "The files listed on %d rows could not be found.\n", len(errs))
		if r.enumerate(errs) {
			for _, e := range errs {
				b.WriteString(e.File + "\n")
			}
		} else {
			fmt.Fprintf(&b, "An example of a missing filename is: %s\n", errs[0].File)
		}
	case KindCannotFindWork:
		b.WriteString("\n-- Objects selected for update cannot be found --\n")
		if r.enumerate(errs) {
			for _, e := range errs {
				fmt.Fprintf(&b, "row %d: %s\n", e.RowNumber, e.ObjectID)
			}
		} else {
			fmt.Fprintf(&b, "%d rows referenced missing objects. An example is row %d (%s).\n", len(errs), errs[0].RowNumber, errs[0].ObjectID)
		}
	case KindRelationshipError:
		b.WriteString("\n-- Errors resolving relationships --\n")
		fmt.Fprintf(&b, "There were issues resolving %d relationships.\n", len(errs))
		if r.enumerate(errs) {
			for _, e := range errs {
				fmt.Fprintf(&b, "Row %d, relationship #%s: %s\n", e.RowNumber, e.ObjectID, e.Message)
			}
		} else {
			fmt.Fprintf(&b, "An example: row %d, relationship #%s: %s\n", errs[0].RowNumber, errs[0].ObjectID, errs[0].Message)
		}
	case KindIngestFailure:
		b.WriteString("\n-- Ingested object is broken or missing --\n")
		fmt.Fprintf(&b, "After the operation completed there were issues reloading and re-saving the objects associated with %d rows.\n", len(errs))
		if r.enumerate(errs) {
			for _, e := range errs {
				fmt.Fprintf(&b, "row %d - proxy #%s\n", e.RowNumber, e.ObjectID)
			}
		} else {
			fmt.Fprintf(&b, "An example of a failed ingest is row %d with proxy %s\n", errs[0].RowNumber, errs[0].ObjectID)
		}
	case KindIDNotUnique:
		b.WriteString("\n-- Multiple objects share a supposedly unique identifier --\n")
		if r.enumerate(errs) {
			for _, e := range errs {
				fmt.Fprintf(&b, "row %d - proxy #%s - %s: %s\n", e.RowNumber, e.ObjectID, e.OptionName, e.OptionValues)
			}
		} else {
			fmt.Fprintf(&b, "An example is row %d with proxy %s using the identifier %s: %s\n", errs[0].RowNumber, errs[0].ObjectID, errs[0].OptionName, errs[0].OptionValues)
		}
	default:
		b.WriteString("\n-- There were other errors of an unrecognized kind. Check the application logs. --\n")
	}
	return b.String()
}

func (r *Renderer) urlSection(b *strings.Builder, errs []Error, title, prefix string) {
	b.WriteString("\n" + title + "\n")
	urls := funk.UniqString(funk.Map(errs, func(e Error) string { return e.URL }).([]string))
	if len(urls) < r.maxDetail {
		for _, url := range urls {
			urlErrs := funk.Filter(errs, func(e Error) bool { return e.URL == url }).([]Error)
			fmt.Fprintf(b, "%s %s. This term appears %d times in the spreadsheet, on rows:\n", prefix, url, len(urlErrs))
			for _, e := range urlErrs {
				fmt.Fprintf(b, "%d\n", e.RowNumber)
			}
		}
	} else {
		fmt.Fprintf(b, "There were %d different terms with a total of %d errors. These are too many to list, but an example is %s in row %d.\n",
			len(urls), len(errs), errs[0].URL, errs[0].RowNumber)
	}
}

// enumerate reports whether a section should list every error in full.
func (r *Renderer) enumerate(errs []Error) bool {
	return len(errs) < r.maxDetail
}

func (r *Renderer) writeRows(b *strings.Builder, errs []Error) {
	if r.enumerate(errs) {
		b.WriteString("The following rows were affected:\n")
		for i, e := range errs {
			if i > 0 {
				b.WriteString(",")
			}
			fmt.Fprintf(b, "%d", e.RowNumber)
		}
		b.WriteString("\n")
	} else {
		fmt.Fprintf(b, "%d rows were affected. An example is row %d.\n", len(errs), errs[0].RowNumber)
	}
}

func orNewObject(id string) string {
	if id == "" {
		return "new object"
	}
	return id
}
