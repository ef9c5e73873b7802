// Implements a static analysis tool for the vmwatch tree that reports:
// 1. Usage of built-in panic() function anywhere in the code
// 2. Usage of log.Fatal()/log.Fatalf()/log.Fatalln() or os.Exit() outside of main function in main package
// 3. Process execution outside the command package
// 4. Process execution through a shell interpreter
package main

import (
	"go/ast"
	"go/constant"
	"path"

	"golang.org/x/tools/go/analysis"
	"golang.org/x/tools/go/analysis/passes/inspect"
	"golang.org/x/tools/go/ast/inspector"
)

// Analyzer is the main analyzer for the vmwatch safety rules
var Analyzer = &analysis.Analyzer{
	Name: "vmwatchlint",
	Doc:  "reports panic, exits outside main and process execution outside the command package or through a shell",
	Run:  run,
	Requires: []*analysis.Analyzer{
		inspect.Analyzer,
	},
}

// execPackage is the only package allowed to start processes.
const execPackage = "command"

var shells = map[string]bool{
	"sh": true, "bash": true, "zsh": true, "dash": true, "ksh": true,
	"cmd": true, "cmd.exe": true, "powershell": true, "pwsh": true,
}

// run executes the analysis logic
func run(pass *analysis.Pass) (interface{}, error) {
	inspect := pass.ResultOf[inspect.Analyzer].(*inspector.Inspector)

	nodeFilter := []ast.Node{
		(*ast.CallExpr)(nil),
		(*ast.FuncDecl)(nil),
	}

	inMain := false

	inspect.Preorder(nodeFilter, func(n ast.Node) {
		switch node := n.(type) {
		case *ast.FuncDecl:
			inMain = pass.Pkg.Name() == "main" && node.Name.Name == "main"
		case *ast.CallExpr:
			if ident, ok := node.Fun.(*ast.Ident); ok && ident.Name == "panic" {
				pass.Reportf(ident.Pos(), "found usage of panic")
			}

			sel, ok := node.Fun.(*ast.SelectorExpr)
			if !ok {
				return
			}
			ident, ok := sel.X.(*ast.Ident)
			if !ok {
				return
			}
			name := ident.Name + "." + sel.Sel.Name
			switch name {
			case "log.Fatal", "log.Fatalf", "log.Fatalln", "os.Exit":
				if !inMain {
					pass.Reportf(node.Pos(), "found usage of %s outside of main function", name)
				}
			case "exec.Command", "exec.CommandContext":
				checkExec(pass, node, name)
			}
		}
	})

	return nil, nil
}

func checkExec(pass *analysis.Pass, call *ast.CallExpr, name string) {
	if pass.Pkg.Name() != execPackage {
		pass.Reportf(call.Pos(), "found usage of %s outside of the %s package", name, execPackage)
	}
	program := 0
	if name == "exec.CommandContext" {
		program = 1
	}
	if len(call.Args) <= program {
		return
	}
	tv, ok := pass.TypesInfo.Types[call.Args[program]]
	if !ok || tv.Value == nil || tv.Value.Kind() != constant.String {
		return
	}
	if shells[path.Base(constant.StringVal(tv.Value))] {
		pass.Reportf(call.Pos(), "%s runs a shell interpreter", name)
	}
}
