package errutils

// Package errutils provides a set of utilities for working with errors in Go.

// Example:
//
// The following example demonstrates how to use `NewCustomError` to build errors from a template:
//
//     package main
//
//     import (
//         "fmt"
//         "github.com/defra/pafs-backend/errutils"
//     )
//
//     var errFailed = errutils.NewCustomError("failed to perform operation: %v")
//
//     func main() {
//         err := someFunction()
//         if err != nil {
//             wrappedErr := errFailed.Err(err)
//             fmt.Println(wrappedErr)
//         }
//     }
//
// In the above example, the template's `Err` method is used to add context to the original error returned by `someFunction()`.
// The resulting error is then printed using `fmt.Println()`.
