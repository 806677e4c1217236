package report

import (
	"encoding/xml"
	"fmt"
	"io"
	"strings"

	"github.com/unkn0wn-root/restrun/internal/runner"
)

type JUnitTestSuites struct {
	XMLName    xml.Name         `xml:"testsuites"`
	Name       string           `xml:"name,attr,omitempty"`
	Tests      int              `xml:"tests,attr"`
	Failures   int              `xml:"failures,attr"`
	Errors     int              `xml:"errors,attr"`
	Time       float64          `xml:"time,attr"`
	Timestamp  string           `xml:"timestamp,attr,omitempty"`
	TestSuites []JUnitTestSuite `xml:"testsuite"`
}

// JUnitTestSuite holds the tests of one request.
type JUnitTestSuite struct {
	Name      string          `xml:"name,attr"`
	Tests     int             `xml:"tests,attr"`
	Failures  int             `xml:"failures,attr"`
	Errors    int             `xml:"errors,attr"`
	Time      float64         `xml:"time,attr"`
	TestCases []JUnitTestCase `xml:"testcase"`
	SystemOut string          `xml:"system-out,omitempty"`
}

type JUnitTestCase struct {
	Name      string        `xml:"name,attr"`
	ClassName string        `xml:"classname,attr"`
	Time      float64       `xml:"time,attr"`
	Failure   *JUnitFailure `xml:"failure,omitempty"`
	Error     *JUnitFailure `xml:"error,omitempty"`
}

type JUnitFailure struct {
	Message string `xml:"message,attr,omitempty"`
	Type    string `xml:"type,attr,omitempty"`
	Content string `xml:",chardata"`
}

// BuildJUnit maps each request to a suite. A transport or fatal script
// error becomes an error case so CI marks the request red even without
// failing tests.
func BuildJUnit(result *runner.CollectionRunResult) JUnitTestSuites {
	out := JUnitTestSuites{
		Name:      result.ProjectName,
		Time:      float64(result.Duration) / 1000,
		Timestamp: result.StartTime.UTC().Format("2006-01-02T15:04:05"),
	}
	for _, r := range result.RequestResults {
		suite := JUnitTestSuite{
			Name: fmt.Sprintf("%s %s", r.Method, r.RequestName),
			Time: float64(r.Duration) / 1000,
		}
		for _, t := range r.Tests {
			tc := JUnitTestCase{
				Name:      t.Name,
				ClassName: r.RequestName,
				Time:      t.Elapsed.Seconds(),
			}
			if !t.Passed {
				tc.Failure = &JUnitFailure{Message: t.Message, Type: "AssertionError", Content: t.Message}
				suite.Failures++
			}
			suite.TestCases = append(suite.TestCases, tc)
		}
		if msg := requestError(r); msg != "" {
			suite.TestCases = append(suite.TestCases, JUnitTestCase{
				Name:      "request",
				ClassName: r.RequestName,
				Error:     &JUnitFailure{Message: msg, Type: "error", Content: msg},
			})
			suite.Errors++
		}
		suite.Tests = len(suite.TestCases)
		if len(r.Console) > 0 {
			suite.SystemOut = strings.Join(r.Console, "\n")
		}

		out.Tests += suite.Tests
		out.Failures += suite.Failures
		out.Errors += suite.Errors
		out.TestSuites = append(out.TestSuites, suite)
	}
	return out
}

func requestError(r runner.RequestRunResult) string {
	switch {
	case r.Error != "":
		return r.Error
	case r.ScriptError != "":
		return r.ScriptError
	}
	return ""
}

func CollectionJUnit(w io.Writer, result *runner.CollectionRunResult) error {
	if _, err := io.WriteString(w, xml.Header); err != nil {
		return err
	}
	enc := xml.NewEncoder(w)
	enc.Indent("", "  ")
	if err := enc.Encode(BuildJUnit(result)); err != nil {
		return err
	}
	_, err := io.WriteString(w, "\n")
	return err
}
