// Package logger provides leveled, colored console logging.
//
// Info lines print only in verbose mode and debug lines only in debug mode;
// warnings and errors always go to stderr. A prefix tags every line, which the
// server uses to keep concurrent connections apart.
package logger
