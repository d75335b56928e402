package main

import (
	"encoding/xml"
	"fmt"
	"os"

	. "github.com/russross/autograder/types"
)

// The grader image runs the course test suites under JUnit and leaves
// the standard XML report next to results.json. The report is parsed
// into the test tree shown to the student.

type xUnitProgram struct {
	XMLName xml.Name      `xml:"testsuites"`
	Suites  []*xUnitSuite `xml:"testsuite"`
}

type xUnitSuite struct {
	Name  string       `xml:"name,attr"`
	Cases []*xUnitCase `xml:"testcase"`
}

type xUnitCase struct {
	Name      string        `xml:"name,attr"`
	Status    string        `xml:"status,attr"`
	ClassName string        `xml:"classname,attr"`
	Failure   *xUnitFailure `xml:"failure"`
	Error     *xUnitFailure `xml:"error"`
	Skipped   *xUnitFailure `xml:"skipped"`
}

type xUnitFailure struct {
	Message string `xml:"message,attr"`
	Type    string `xml:"type,attr"`
	Body    string `xml:",chardata"`
}

// parseXUnit converts a JUnit XML report into a test tree, one child
// per suite and one grandchild per test case.
func parseXUnit(contents []byte) (*TestNode, error) {
	if len(contents) == 0 {
		return nil, fmt.Errorf("no unit test results found")
	}

	results := new(xUnitProgram)
	if err := xml.Unmarshal(contents, results); err != nil {
		// some runners emit a bare list of testsuite elements
		results.Suites = nil
		if err := xml.Unmarshal(contents, &results.Suites); err != nil {
			return nil, fmt.Errorf("error parsing unit test results: %v", err)
		}
	}

	root := &TestNode{Name: "tests", Children: make(map[string]*TestNode)}
	for _, suite := range results.Suites {
		node := &TestNode{Name: suite.Name, Children: make(map[string]*TestNode)}
		for _, testCase := range suite.Cases {
			name := testCase.Name
			if testCase.ClassName != "" && testCase.ClassName != suite.Name {
				name = testCase.ClassName + "." + testCase.Name
			}
			leaf := &TestNode{Name: name}

			failure := testCase.Failure
			if failure == nil {
				failure = testCase.Error
			}
			if failure == nil {
				failure = testCase.Skipped
			}
			if (testCase.Status == "run" || testCase.Status == "") && failure == nil {
				leaf.Passed = 1
			} else {
				leaf.Failed = 1
				leaf.ErrorMessage = failure.Message
				if leaf.ErrorMessage == "" {
					leaf.ErrorMessage = failure.Body
				}
			}

			node.Children[leaf.Name] = leaf
			node.Passed += leaf.Passed
			node.Failed += leaf.Failed
		}
		root.Children[node.Name] = node
		root.Passed += node.Passed
		root.Failed += node.Failed
	}
	return root, nil
}

// attachTestDetails fills in the test tree for categories the grader
// reported without one, using the JUnit report when present.
func attachTestDetails(path string, rubric *Rubric) {
	contents, err := os.ReadFile(path)
	if err != nil {
		return
	}
	tree, err := parseXUnit(contents)
	if err != nil {
		return
	}
	for _, category := range []RubricCategory{RubricTests, RubricUnitTests} {
		item := rubric.Items[category]
		if item != nil && item.Results != nil && item.Results.TestResults == nil {
			item.Results.TestResults = tree
		}
	}
}
