// Package ffi translates errors coming out of the native device layer.
//
// Native calls report failure through a ForeignError that owns native
// memory. The Translator reads the code and message into Go values, frees
// the foreign error, and returns an errors.Error of kind NativeFailure, so
// nothing native ever reaches scripting code:
//
//	tr := ffi.NewTranslator(ffi.CodeTable(codeNames), log)
//	err := tr.Translate("afcFileOpen", ferr) // ferr is freed here
//	onFailure(err.Failure())
package ffi
