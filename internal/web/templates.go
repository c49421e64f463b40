package web

import "html/template"

var indexTmpl = template.Must(template.New("index").Parse(`<!DOCTYPE html>
<head>
<meta charset="utf-8">
<title>abi-checker</title>
<style type="text/css">
td { padding: 0.3em; text-align: center; }
td.label { text-align: left; }
</style>
</head>
<body>
<h1>compatibility matrix</h1>
<table cellpadding=0 cellspacing=0>
{{ range $row := .Rows }}
<tr>
<td class="label"><a href="/cases/{{ $row.Case }}/">{{ $row.Case }}</a></td>
<td class="label">{{ $row.CompileBuild }}</td>
<td class="label">{{ $row.CompileOption }}</td>
{{ range $row.Cells }}
<td><a href="/runs/{{ $row.Case }}/{{ $row.CompileBuild }}/{{ $row.CompileOption }}/{{ .ExecBuild }}/">{{ .Result.Glyph }}</a></td>
{{ end }}
</tr>
{{ end }}
</table>
{{ if .CacheFree }}<p>cache disk space free: {{ .CacheFree }}</p>{{ end }}
</body>
</html>`))

var runTmpl = template.Must(template.New("run").Parse(`<!DOCTYPE html>
<head><meta charset="utf-8"><title>{{ .CaseTag }} {{ .Glyph }}</title></head>
<body>
<h1>{{ .CaseTag }} / {{ .CompileBuild }} / {{ .CompileOption }} / {{ .ExecBuild }}</h1>
<p>result: {{ .Glyph }} {{ .Result }}</p>
{{ if .Cause }}<pre>{{ .Cause }}</pre>{{ end }}
{{ if .Err }}<p>internal error: {{ .Err }}</p>{{ end }}
</body>
</html>`))

var caseTmpl = template.Must(template.New("case").Parse(`<!DOCTYPE html>
<head><meta charset="utf-8"><title>{{ .Tag }}</title></head>
<body>
<h1>{{ .Tag }}</h1>
<table cellpadding=0 cellspacing=0>
{{ $tag := .Tag }}
{{ range $row := .Rows }}
<tr>
<td>{{ $row.CompileBuild }}</td>
<td>{{ $row.CompileOption }}</td>
{{ range $row.Cells }}
<td><a href="/runs/{{ $tag }}/{{ $row.CompileBuild }}/{{ $row.CompileOption }}/{{ .ExecBuild }}/">{{ .Result.Glyph }}</a></td>
{{ end }}
</tr>
{{ end }}
</table>
<p><a href="/">back to matrix</a></p>
</body>
</html>`))
