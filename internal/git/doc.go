// Package git warns when passync files could be committed to a git
// repository.
//
// Checks performed for each file:
//   - Whether it is tracked by git (should not be)
//   - Whether it is in .gitignore (should be)
//
// The device master key file and exported vaults are checked; together they
// open every stored password.
package git
