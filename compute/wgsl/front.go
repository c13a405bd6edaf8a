package wgsl

import (
	"regexp"
	"strconv"

	"github.com/gogpu/naga/ir"
	nagawgsl "github.com/gogpu/naga/wgsl"
)

// naga reports parse errors as "line L, column C: msg" and lowering errors
// as "L:C: msg"; both are folded into positioned diagnostics.
var (
	parsePos = regexp.MustCompile(`line (\d+), column (\d+): (.*)$`)
	lowerPos = regexp.MustCompile(`(\d+):(\d+): (.*)$`)
)

func diagnose(diags *DiagnosticList, err error) {
	msg := err.Error()
	for _, re := range []*regexp.Regexp{parsePos, lowerPos} {
		if m := re.FindStringSubmatch(msg); m != nil {
			line, _ := strconv.Atoi(m[1])
			col, _ := strconv.Atoi(m[2])
			diags.add(Pos{Line: line, Col: col}, "%s", m[3])
			return
		}
	}
	diags.add(Pos{}, "%s", msg)
}

// lower runs the naga front end: tokenize, parse, lower to IR and validate
// the IR's structure. Lowering warnings are returned with the module.
func lower(name, src string) (*ir.Module, []Diagnostic, error) {
	diags := &DiagnosticList{Source: name}
	tokens, err := nagawgsl.NewLexer(src).Tokenize()
	if err != nil {
		diagnose(diags, err)
		return nil, nil, diags
	}
	ast, err := nagawgsl.NewParser(tokens).Parse()
	if err != nil {
		diagnose(diags, err)
		return nil, nil, diags
	}
	res, err := nagawgsl.LowerWithWarnings(ast, src)
	if err != nil {
		diagnose(diags, err)
		return nil, nil, diags
	}
	verrs, err := ir.Validate(res.Module)
	if err != nil {
		diagnose(diags, err)
		return nil, nil, diags
	}
	for _, v := range verrs {
		diags.add(Pos{}, "%s", v.Error())
	}
	if err := diags.err(); err != nil {
		return nil, nil, err
	}

	var warnings []Diagnostic
	for _, w := range res.Warnings {
		warnings = append(warnings, Diagnostic{
			Pos: Pos{Line: w.Span.Start.Line, Col: w.Span.Start.Column},
			Msg: w.Message,
		})
	}
	return res.Module, warnings, nil
}
