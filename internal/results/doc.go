// Package results speaks the results protocol between build agents and a
// results server.
//
// Agents connect to the server, identify themselves as builders and run
// the scripts/<project> script for every SuggestBuild they receive,
// reporting the exit code back with SendResult. The server relays each
// result to every connected builder with SendStatus and forwards build
// suggestions, typically sent by a git post-receive hook through a
// Suggester, to all of them.
package results
