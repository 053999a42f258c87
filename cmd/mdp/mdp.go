/*
mdp sends and receives files over IP multicast
*/
package main

import "github.com/skycoin/mdp/cmd/mdp/commands"

func main() {
	commands.Execute()
}
