package story

import (
	"regexp"
	"sort"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// normalize lowercases s and strips combining marks so "Valentía" and
// "valentia" compare equal.
func normalize(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(t, s)
	if err != nil {
		folded = s
	}
	return strings.ToLower(folded)
}

// Licensed-character dataset. Entries are stored already normalized.
var (
	// licensedPhrases are multi-word names that are unambiguous on their own.
	licensedPhrases = []string{
		"princess elsa", "queen elsa", "elsa and anna", "anna and elsa",
		"spider-man", "spider man", "harry potter", "mickey mouse", "minnie mouse",
		"darth vader", "luke skywalker", "buzz lightyear", "toy story",
		"paw patrol", "peppa pig", "sonic the hedgehog", "super mario",
		"hello kitty", "winnie the pooh", "captain america", "iron man",
		"wonder woman", "lightning mcqueen", "optimus prime", "princess peach",
		"baby shark", "bluey and bingo", "ninja turtles", "scooby doo", "scooby-doo",
	}

	// licensedNames are single tokens that only ever mean the character.
	licensedNames = []string{
		"pikachu", "pokemon", "batman", "superman", "spiderman", "hermione",
		"dumbledore", "hogwarts", "shrek", "simba", "moana", "olaf", "minions",
		"gru", "totoro", "mcqueen", "skywalker", "yoda", "elmo", "barbie",
	}

	// ambiguousNames are ordinary words or given names that only count when a
	// context keyword appears elsewhere in the prompt.
	ambiguousNames = map[string][]string{
		"elsa":    {"frozen", "princess", "queen", "arendelle", "ice powers", "disney"},
		"anna":    {"frozen", "arendelle", "princess", "elsa"},
		"frozen":  {"movie", "film", "disney", "princess", "elsa", "anna", "olaf"},
		"cars":    {"movie", "film", "pixar", "lightning", "disney"},
		"brave":   {"merida", "pixar", "movie", "film"},
		"tangled": {"rapunzel", "disney", "movie", "film"},
		"coco":    {"pixar", "miguel", "movie", "film"},
		"bluey":   {"bingo", "heeler", "cartoon", "show"},
		"mario":   {"luigi", "nintendo", "princess peach", "bowser", "video game"},
		"ariel":   {"mermaid", "disney", "sebastian", "flounder"},
		"belle":   {"beast", "disney", "princess"},
		"bambi":   {"disney", "thumper", "movie"},
	}
)

var (
	licensedNamePatterns  = compileWordPatterns(licensedNames)
	ambiguousNamePatterns = compileWordPatterns(mapKeys(ambiguousNames))
	contextPatterns       = compileContextPatterns(ambiguousNames)
)

// compileContextPatterns compiles each ambiguous name's context keywords as
// whole words, so "movies" or "showing" are not a "movie" or "show".
func compileContextPatterns(m map[string][]string) map[string][]wordPattern {
	out := make(map[string][]wordPattern, len(m))
	for name, words := range m {
		var ctx []string
		for _, w := range words {
			if w != name {
				ctx = append(ctx, w)
			}
		}
		out[name] = compileWordPatterns(ctx)
	}
	return out
}

func mapKeys(m map[string][]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

type wordPattern struct {
	word string
	re   *regexp.Regexp
}

func compileWordPatterns(words []string) []wordPattern {
	out := make([]wordPattern, 0, len(words))
	for _, w := range words {
		out = append(out, wordPattern{word: w, re: wordRegexp(w)})
	}
	return out
}

func wordRegexp(w string) *regexp.Regexp {
	return regexp.MustCompile(`\b` + regexp.QuoteMeta(w) + `\b`)
}

// maskName replaces whole-word occurrences of name in text. A child who is
// really called Elsa must not trip the licensed-character check.
func maskName(text, name string) string {
	name = strings.TrimSpace(normalize(name))
	if name == "" {
		return text
	}
	return wordRegexp(name).ReplaceAllString(text, "[child]")
}

// ScanLicensedCharacters returns human-readable matches of licensed
// characters in prompt. childName is masked before scanning. Callers pass
// only caller-written text; fixed template wording may contain context
// keywords such as "movie".
func ScanLicensedCharacters(prompt, childName string) []string {
	text := maskName(normalize(prompt), childName)

	var matches []string
	for _, phrase := range licensedPhrases {
		if strings.Contains(text, phrase) {
			matches = append(matches, "licensed character reference: "+phrase)
		}
	}
	for _, p := range licensedNamePatterns {
		if p.re.MatchString(text) {
			matches = append(matches, "licensed character name: "+p.word)
		}
	}
	for _, p := range ambiguousNamePatterns {
		if !p.re.MatchString(text) {
			continue
		}
		for _, c := range contextPatterns[p.word] {
			if c.re.MatchString(text) {
				matches = append(matches, "licensed character name: "+p.word+" (with "+c.word+")")
				break
			}
		}
	}
	return matches
}

// themeKeywords maps canonical theme -> language -> keywords.
var themeKeywords = map[string]map[string][]string{
	"friendship": {
		"en": {"friend", "together", "share", "help", "trust", "kind", "play", "companion"},
		"es": {"amigo", "amiga", "amistad", "juntos", "compartir", "ayudar", "confianza", "compañero"},
	},
	"courage": {
		"en": {"brave", "courage", "fear", "afraid", "bold", "hero", "dare", "strong"},
		"es": {"valiente", "valentía", "miedo", "coraje", "atrever", "héroe", "fuerte", "audaz"},
	},
	"kindness": {
		"en": {"kind", "gentle", "care", "help", "smile", "hug", "thank", "generous"},
		"es": {"amable", "bondad", "cuidar", "ayudar", "sonrisa", "abrazo", "gracias", "generoso"},
	},
	"honesty": {
		"en": {"truth", "honest", "lie", "promise", "admit", "sorry", "trust", "confess"},
		"es": {"verdad", "honesto", "mentira", "promesa", "admitir", "perdón", "confianza", "sincero"},
	},
	"nature": {
		"en": {"tree", "forest", "flower", "river", "bird", "garden", "leaf", "mountain"},
		"es": {"árbol", "bosque", "flor", "río", "pájaro", "jardín", "hoja", "montaña"},
	},
	"space": {
		"en": {"star", "moon", "planet", "rocket", "astronaut", "galaxy", "sky", "comet"},
		"es": {"estrella", "luna", "planeta", "cohete", "astronauta", "galaxia", "cielo", "cometa"},
	},
	"ocean": {
		"en": {"sea", "ocean", "wave", "fish", "shell", "whale", "beach", "coral"},
		"es": {"mar", "océano", "ola", "pez", "concha", "ballena", "playa", "coral"},
	},
	"family": {
		"en": {"mom", "dad", "sister", "brother", "grandma", "grandpa", "home", "family"},
		"es": {"mamá", "papá", "hermana", "hermano", "abuela", "abuelo", "hogar", "familia"},
	},
	"animals": {
		"en": {"animal", "dog", "cat", "rabbit", "bear", "fox", "owl", "puppy"},
		"es": {"animal", "perro", "gato", "conejo", "oso", "zorro", "búho", "cachorro"},
	},
	"magic": {
		"en": {"magic", "wand", "spell", "wizard", "fairy", "sparkle", "enchanted", "potion"},
		"es": {"magia", "varita", "hechizo", "mago", "hada", "brillo", "encantado", "poción"},
	},
	"dinosaurs": {
		"en": {"dinosaur", "t-rex", "fossil", "egg", "roar", "prehistoric", "volcano", "jurassic"},
		"es": {"dinosaurio", "tiranosaurio", "fósil", "huevo", "rugido", "prehistórico", "volcán", "jurásico"},
	},
}

// themeAliases folds localized or synonym theme names onto canonical keys.
var themeAliases = map[string]string{
	"amistad":     "friendship",
	"friends":     "friendship",
	"bravery":     "courage",
	"valentia":    "courage",
	"coraje":      "courage",
	"bondad":      "kindness",
	"amabilidad":  "kindness",
	"honestidad":  "honesty",
	"truth":       "honesty",
	"naturaleza":  "nature",
	"espacio":     "space",
	"outer space": "space",
	"oceano":      "ocean",
	"mar":         "ocean",
	"sea":         "ocean",
	"familia":     "family",
	"animales":    "animals",
	"magia":       "magic",
	"dinosaurios": "dinosaurs",
}

// canonicalLanguage maps "es-MX", "Spanish" or "español" onto "es".
func canonicalLanguage(lang string) string {
	l := normalize(strings.TrimSpace(lang))
	switch {
	case l == "english" || strings.HasPrefix(l, "en"):
		return "en"
	case l == "spanish" || l == "espanol" || l == "castellano" || strings.HasPrefix(l, "es"):
		return "es"
	}
	return l
}

func canonicalTheme(theme string) string {
	t := normalize(strings.TrimSpace(theme))
	if alias, ok := themeAliases[t]; ok {
		return alias
	}
	return t
}

// CountThemeKeywords counts distinct theme keywords present in text. ok is
// false when the theme/language pair has no keyword set.
func CountThemeKeywords(text, theme, language string) (count int, ok bool) {
	byLang, found := themeKeywords[canonicalTheme(theme)]
	if !found {
		return 0, false
	}
	keywords, found := byLang[canonicalLanguage(language)]
	if !found {
		return 0, false
	}

	haystack := normalize(text)
	for _, kw := range keywords {
		if strings.Contains(haystack, normalize(kw)) {
			count++
		}
	}
	return count, true
}

// ThemeCap maps a keyword match count onto the highest theme score the
// heuristic allows.
func ThemeCap(matches int) int {
	switch {
	case matches <= 0:
		return 1
	case matches == 1:
		return 3
	case matches == 2:
		return 5
	case matches == 3:
		return 7
	}
	return 9
}
