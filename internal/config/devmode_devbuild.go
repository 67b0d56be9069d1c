//go:build devbuild

package config

const debugBuild = true
