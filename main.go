// Command clothsim runs the spring-mass cloth simulator. All flag handling
// lives in cmd/.
package main

import "github.com/clothfold/clothsim/cmd"

func main() {
	cmd.Execute()
}
