// Package parser extracts student records from rendered result pages.
package parser

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/result-harvester/internal/harvest"
)

// Fields maps each fixed record field to the id of the element carrying it.
type Fields struct {
	Name              string `mapstructure:"name"`
	Roll              string `mapstructure:"roll"`
	Program           string `mapstructure:"program"`
	Branch            string `mapstructure:"branch"`
	Semester          string `mapstructure:"semester"`
	Status            string `mapstructure:"status"`
	Session           string `mapstructure:"session"`
	ResultDescription string `mapstructure:"result_description"`
	SGPA              string `mapstructure:"sgpa"`
	CGPA              string `mapstructure:"cgpa"`
}

// DefaultFields returns the element ids of the grading result page.
func DefaultFields() Fields {
	return Fields{
		Name:              "ctl00_ContentPlaceHolder1_lblNameGrading",
		Roll:              "ctl00_ContentPlaceHolder1_lblRollNoGrading",
		Program:           "ctl00_ContentPlaceHolder1_lblProgramGrading",
		Branch:            "ctl00_ContentPlaceHolder1_lblBranchGrading",
		Semester:          "ctl00_ContentPlaceHolder1_lblSemesterGrading",
		Status:            "ctl00_ContentPlaceHolder1_lblStatusGrading",
		Session:           "ctl00_ContentPlaceHolder1_lblSession",
		ResultDescription: "ctl00_ContentPlaceHolder1_lblResultNewGrading",
		SGPA:              "ctl00_ContentPlaceHolder1_lblSGPA",
		CGPA:              "ctl00_ContentPlaceHolder1_lblcgpa",
	}
}

// DefaultTableClass is the class of the subject grade tables.
const DefaultTableClass = "gridtable"

// labelRows are header rows of the grade tables that look like subject rows.
var labelRows = map[string]struct{}{
	"Name":     {},
	"Course":   {},
	"Semester": {},
}

// Config selects where the parser looks.
type Config struct {
	Fields     Fields
	TableClass string
}

// Parser implements harvest.Parser with goquery.
type Parser struct {
	fields     Fields
	tableClass string
}

// New returns a Parser, filling zero values with the portal defaults.
func New(cfg Config) *Parser {
	if cfg.Fields == (Fields{}) {
		cfg.Fields = DefaultFields()
	}
	if cfg.TableClass == "" {
		cfg.TableClass = DefaultTableClass
	}
	return &Parser{fields: cfg.Fields, tableClass: cfg.TableClass}
}

// Parse builds a Record from markup. A page without a student name yields the
// not-found record with no subjects; nothing partial is returned.
func (p *Parser) Parse(markup []byte) (harvest.Record, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(markup))
	if err != nil {
		return harvest.Record{}, fmt.Errorf("parse result page: %w", err)
	}

	name := p.text(doc, p.fields.Name)
	if name == "" {
		return harvest.NewNotFoundRecord(), nil
	}
	return harvest.Record{
		Name:              name,
		Roll:              p.text(doc, p.fields.Roll),
		Program:           p.text(doc, p.fields.Program),
		Branch:            p.text(doc, p.fields.Branch),
		Semester:          p.text(doc, p.fields.Semester),
		Status:            p.text(doc, p.fields.Status),
		Session:           p.text(doc, p.fields.Session),
		ResultDescription: p.text(doc, p.fields.ResultDescription),
		SGPA:              p.text(doc, p.fields.SGPA),
		CGPA:              p.text(doc, p.fields.CGPA),
		Subjects:          p.subjects(doc),
	}, nil
}

func (p *Parser) text(doc *goquery.Document, id string) string {
	if id == "" {
		return ""
	}
	sel := doc.Find(`[id="` + id + `"]`).First()
	if sel.Length() == 0 {
		return ""
	}
	return normalize(sel.Text())
}

func (p *Parser) subjects(doc *goquery.Document) *harvest.Subjects {
	subjects := harvest.NewSubjects()
	doc.Find("table." + p.tableClass).Each(func(_ int, table *goquery.Selection) {
		table.Find("tr").Each(func(_ int, row *goquery.Selection) {
			cells := row.ChildrenFiltered("td")
			if cells.Length() != 4 {
				return
			}
			key := normalize(cells.Eq(0).Text())
			if key == "" {
				return
			}
			if _, skip := labelRows[key]; skip {
				return
			}
			subjects.Set(key, normalize(cells.Eq(3).Text()))
		})
	})
	return subjects
}

func normalize(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
