// Package build models a single execution of a build script and the
// reserved statuses that report why a script could not be run.
//
// A Build starts pending and is finished exactly once, either by the exit
// code of its subprocess or by one of the reserved statuses:
//
//	StatusMissingVersion  the request carried no version
//	StatusFileNotFound    the script vanished before it could be started
//	StatusExecFailed      the script exists but could not be executed
package build
