// Package keystore loads and saves the device master key.
//
// Two sources are supported. The env-file source keeps MAIN_KEY in a .env
// file inside the data directory. The keyring source keeps it in the OS
// keyring under the device id. The keyring can also remember account
// passwords so commands can run without a prompt.
package keystore
