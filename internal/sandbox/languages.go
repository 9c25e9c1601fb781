package sandbox

import "github.com/noah-isme/gema-grader/internal/models"

// runtime maps a language onto the sandbox runtime and the container image
// used by the Docker driver.
type runtime struct {
	Runtime  string
	FileName string
	Image    string
	Command  string
}

var runtimes = map[models.Language]runtime{
	models.LanguagePython: {
		Runtime:  "python",
		FileName: "main.py",
		Image:    "python:3.11-alpine",
		Command:  "python main.py",
	},
	models.LanguageJavaScript: {
		Runtime:  "javascript",
		FileName: "main.js",
		Image:    "node:20-alpine",
		Command:  "node main.js",
	},
	models.LanguageJava: {
		Runtime:  "java",
		FileName: "Main.java",
		Image:    "eclipse-temurin:17-jdk-alpine",
		Command:  "javac Main.java && java Main",
	},
	models.LanguageCPP: {
		Runtime:  "cpp",
		FileName: "main.cpp",
		Image:    "gcc:13",
		Command:  "g++ -O2 -o main main.cpp && ./main",
	},
	models.LanguageC: {
		Runtime:  "c",
		FileName: "main.c",
		Image:    "gcc:13",
		Command:  "gcc -O2 -o main main.c && ./main",
	},
}

func lookupRuntime(language models.Language) (runtime, bool) {
	rt, ok := runtimes[language]
	return rt, ok
}

// FileName returns the canonical source file name for the language.
func FileName(language models.Language) string {
	if rt, ok := runtimes[language]; ok {
		return rt.FileName
	}
	return ""
}
