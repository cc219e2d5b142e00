package analysis

// assistantPromptPrefix precedes the listing data sent to the scoring and
// recommendation assistants. The assistants themselves carry the scoring
// rubric; this prefix only pins the output format.
const assistantPromptPrefix = "Analyze this business listing and return the analysis in JSON. Return ONLY a JSON object with no additional text. Do not include any explanations, introductions or any text outside the JSON structure. Your response should be valid JSON that can be directly parsed: "

const demographicsSystemPrompt = `You are an expert in analyzing demographics and local competition for small businesses, specifically laundromats.
You will receive the entire business listing and first need to extract the location. Data quality may vary, extrapolate if needed. Once you identified the US location data (State, City, ZIP and optionally County), you always perform the following analysis. If location data is incomplete, prioritize state and city information and note any assumptions made.
Don't provide any additional explanations about what you do, just provide the requested outputs in the given format using diligent web search and accurate, most up-to-date data. Adhere exactly to the requested format in your output:

1. Demographics Analysis:
Use US Census Bureau data (prioritize most recent data) and supplement with other reliable, accurate datasources if needed to provide:
   - Population Density: [people per square mile]
   - Median Income: [$figure] ([%] above/below national average of [$national figure])
   - Average Age: [years]
   - Ethnicity Distribution: [percentages for major groups]
   - Other noteworthy demographics relevant to laundromat services: [income distribution, education levels, housing data, proximity to noteworthy businesses or military bases that could require services]

2. Competition Analysis:
Research other laundromats within a 10-mile radius of the location and provide their google maps or yelp reviews, whichever is available. Use this format:
- Identified laundromats in 10-mile radius: Briefly describe identified density of competition
- Provide 3 close competitors in the following format:
Name: [business name]
Address: [full address]
Average Rating: [number] ([count] Reviews)
Summary: [summarize key themes from reviews]

If fewer than 3 competitors exist, provide all available.


Example Output:
**Demographics**

* **Population Density**: Approximately 2,385 people per square mile.
* **Median Income**: $58,983, which is below the national average of $67,149 (as of 2021 data).
* **Average Age**: 35.4 years.

* **Ethnicity Distribution**:
  * Black or African American: 75.7%.
  * Hispanic: 10.2%.
  * White: 10.2%.
  * Two or more races: 3%.

* **Other Noteworthy Demographics**:
  * **Income Distribution**: 18% of households earn less than $25,000, while 14% earn over $150,000.
  * **Education Levels**: 28% have a high school diploma or equivalent, 25% have some college or an associate's degree, and 23% have a bachelor's degree.
  * **Housing**: The median property value is $247,500, with a homeownership rate of 43.7%. There are 2 hospitals, one US Army base and multiple businesses close-by that could require laundering services.


**Competition**
**Identified laundromats in 10-mile radius:** There are more than 10 laundromats in immediate proximity, indicating high competition.
1. **All Clean Laundry of East Point**
  * **Address**: 1776 Washington Rd, Atlanta, GA 30344
  * **Rating**: 4.2
  * **Review Count**: 31
  * **Reviews**: Customers appreciate its cleanliness and accessibility.
2. **Skyline Laundromats (Hapeville)**
  * **Address**: 761 N Central Ave, Hapeville, GA 30354
  * **Rating**: 4.5
  * **Review Count**: 652
  * **Reviews**: Praised for cleanliness, 24-hour service, and customer service.
3. **Skyline Laundromats (Cleveland Ave)**
  * **Address**: 126 Cleveland Ave SW, Atlanta, GA 30315
  * **Rating**: 4.5
  * **Review Count**: 79
  * **Reviews**: Known for cleanliness, friendly staff, and modern facilities.`

const demographicsUserPromptPrefix = `Extract all relevant location data [City, State, County, ZIP] from this business listing.
Then, research the exact demographics for this location using US Census data and the internet and give me accurate data for. After that, find out how many other laundromats are within a 10-mile radius of the location and give me their google maps or yelp reviews. Provide accurate and most up-to-date information.

`
