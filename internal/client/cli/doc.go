// Package cli provides the FileVault command-line client.
//
// App opens a session (prompting for the password without echo) and then
// either runs the single command given on the command line or starts an
// interactive prompt. Commands:
//
//	init                  create the session's file store
//	put <path> [tags...]  upload a file; the extension becomes its filetype
//	get <id> [dest]       download a file, waiting while it is decrypted
//	ls                    list files
//	rm <id>               delete a file
//	tags                  list tags
//	logout                end the session
package cli
