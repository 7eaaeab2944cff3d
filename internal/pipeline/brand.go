package pipeline

// Brand constants for the Poppiconni coloring-book line. These are product
// data, not tunables: every generation and every quality check is anchored to
// this exact wording, so changing it changes what "on-brand" means.

const brandRules = `REGOLE DEL MARCHIO POPPICONNI (OBBLIGATORIE):

1. STILE VISIVO:
   - Disegno per bambini, line-art pulita
   - Linee spesse e chiare (thick outlines)
   - NESSUNA ombreggiatura realistica
   - Sfondo bianco pulito
   - Stile kawaii/cute adatto alla colorazione

2. ELEMENTO OBBLIGATORIO - BARATTOLO DI POPCORN:
   - Deve SEMPRE essere presente un barattolo/secchiello di popcorn
   - La scritta "POPPICONNI" deve essere:
     * Chiaramente LEGGIBILE
     * FRONTALE (non curva, non distorta)
     * In MAIUSCOLO
     * Ad ALTO CONTRASTO (nero su bianco o bianco su rosso)
   - Il barattolo deve essere visibile e non nascosto

3. CONTENUTI VIETATI:
   - Nessun contenuto violento
   - Nessun contenuto per adulti
   - Nessun contenuto spaventoso
   - Composizione semplice adatta ai bambini

4. COMPOSIZIONE:
   - Aree ampie per colorare
   - Dettagli non troppo piccoli
   - Personaggio principale ben visibile
   - Spazi bianchi equilibrati`

const characterDescription = `POPPICONNI - Descrizione del Personaggio:
- Unicorno tenero e goffo
- Occhi grandi ed espressivi
- Guance rosee
- Corno arcobaleno
- Criniera fluffy e morbida
- Espressione dolce e simpatica
- Postura giocosa e amichevole`

// styleFloor is appended verbatim to every generation prompt, regardless of
// what the composer produced. It is the defense-in-depth floor that keeps a
// degraded or adversarial prompt from escaping the mandatory style.
const styleFloor = `STILE OBBLIGATORIO:
- Simple black and white line art
- Coloring book page for children
- Thick clean outlines
- No shading, no colors
- White background
- Cute kawaii style
- A popcorn bucket with text "POPPICONNI" clearly visible and readable`

// genericNegativePrompt is substituted when the composer response cannot be
// parsed as a structured payload.
const genericNegativePrompt = "realistic shading, scary elements, adult content, violence"

// retryEmphasis is appended to the last-used prompt by the asynchronous
// retry loop. It restates the mandatory elements more forcefully than the
// per-attempt prompt patch mechanism.
const retryEmphasis = `CORREZIONE CRITICA - ELEMENTI OBBLIGATORI:
- Il barattolo di popcorn DEVE essere ben visibile in primo piano
- La scritta "POPPICONNI" DEVE essere scritta chiaramente sul barattolo
- Il testo deve essere LEGGIBILE, FRONTALE e in MAIUSCOLO
- Stile: line-art semplice per libro da colorare per bambini`

// copyrightFooter appears at the bottom of every exported print page.
const copyrightFooter = "© Poppiconni - Tutti i diritti riservati - Solo per uso personale"

const fallbackIssue = "Impossibile eseguire il Quality Check automatico"

const fallbackPatch = "Riprova con un prompt più specifico per il barattolo di popcorn POPPICONNI"
