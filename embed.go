package chatwidget

import "embed"

// TemplateFS contains the HTML templates of the widget, split into layouts, pages and partial views.
//
//go:embed templates/*
var TemplateFS embed.FS

// StaticFS contains the widget's JavaScript and CSS.
//
//go:embed static/*
var StaticFS embed.FS
