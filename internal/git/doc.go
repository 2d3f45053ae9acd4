// Package git checks how git sees a walletvault store file.
//
// A plaintext store that is tracked by git, or not ignored, is reported so
// users do not commit unencrypted secrets by accident.
package git
