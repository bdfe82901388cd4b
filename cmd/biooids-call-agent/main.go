// biooids-call-agent is a headless call participant: it joins a room through
// the relay, negotiates media links with every peer, and mirrors room state
// to its log. Useful for load testing rooms and keeping calls warm.
package main

func main() {
	Execute()
}
