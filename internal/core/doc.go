// Package core provides the operations of a passync device.
//
// A Device owns the local vault database and the master key. Core operations
// include:
//   - Init/Open: Create or open the device database and master key
//   - Register/Login/DeleteUser: Local accounts, one vault each
//   - AddEntry/EditEntry/GetPassword/DeleteEntry: Stored credentials
//   - AddServer/EditServer/DeleteServer: Saved sync endpoints
//   - BeginSync/Recover: Download or upload a vault to a sync server
//   - Send/Receive: Move a vault to another device
//   - Export/Import: Copy the wrapped vault document to and from a file
//
// Downloads replace the local entries of the account; login material and
// saved servers are never touched by a sync.
package core
