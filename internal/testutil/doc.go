// Package testutil provides scripted models, tools and collaborators shared by
// package tests.
package testutil
